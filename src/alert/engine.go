package alert

import (
	"hash/fnv"
	"sync"
	"time"

	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Engine is the per-(user, instrument) threshold state machine.
//
// States per direction: Idle and Triggered. Idle -> Triggered fires when the
// target is enabled, set, and crossed (price >= upper / price <= lower); the
// transition persists triggered=true plus the trigger time and emits one
// event. A triggered direction never re-arms on its own, not even after the
// cooldown window elapses; only an explicit target set/clear resets it.
//
// The tick path may call Evaluate concurrently for different instruments;
// striped per-(user, instrument) locks make the check-persist-emit sequence
// atomic per record so two racing ticks cannot double-fire one target.
// -----------------------------------------------------------------------------

const lockStripes = 64

type Engine struct {
	DB       interfaces.IDatabase
	Cooldown time.Duration
	Logger   *logger.Logger

	// ResolveName maps an instrument code to its display name for events.
	ResolveName func(code string) string

	locks [lockStripes]sync.Mutex
}

// -----------------------------------------------------------------------------

func NewEngine(db interfaces.IDatabase, cooldown time.Duration, resolveName func(string) string, log *logger.Logger) *Engine {
	return &Engine{
		DB:          db,
		Cooldown:    cooldown,
		Logger:      log,
		ResolveName: resolveName,
	}
}

// -----------------------------------------------------------------------------

// Evaluate checks every enabled target for the instrument against the
// current price and returns the newly fired events. Errors are isolated per
// target: one bad record never blocks evaluation of the rest.
func (e *Engine) Evaluate(instrumentCode string, price decimal.Decimal, at time.Time) []models.MAlertEvent {
	targets, err := e.DB.ListEnabledTargets(instrumentCode)
	if err != nil {
		e.Logger.Error("Failed to load targets for %s: %v", instrumentCode, err)
		return nil
	}
	if len(targets) == 0 {
		return nil
	}

	var events []models.MAlertEvent
	for i := range targets {
		for _, dir := range []models.MDirection{models.DirectionUpper, models.DirectionLower} {
			if ev := e.evaluateDirection(&targets[i], dir, price, at); ev != nil {
				events = append(events, *ev)
			}
		}
	}
	return events
}

// -----------------------------------------------------------------------------

func (e *Engine) evaluateDirection(target *models.MPriceTarget, dir models.MDirection, price decimal.Decimal, at time.Time) *models.MAlertEvent {
	configured := target.Target(dir)
	if configured == nil || !crossed(dir, price, *configured) {
		return nil
	}

	lock := e.stripe(target.UserID, target.InstrumentCode)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the stripe lock: a racing tick for the same instrument
	// may have fired this direction between the list load and now.
	current, err := e.DB.GetPriceTarget(target.UserID, target.InstrumentCode)
	if err != nil {
		e.Logger.Error("Failed to re-read target %s/%s: %v", target.UserID, target.InstrumentCode, err)
		return nil
	}
	if current == nil || !current.Enabled {
		return nil
	}
	configured = current.Target(dir)
	if configured == nil || !crossed(dir, price, *configured) {
		return nil
	}

	if triggered, triggeredAt := current.Triggered(dir); triggered {
		if triggeredAt != nil && at.Sub(*triggeredAt) < e.Cooldown {
			e.Logger.Debug("Suppressed %s re-trigger for %s/%s: inside cooldown window", dir, current.UserID, current.InstrumentCode)
		} else {
			e.Logger.Debug("Suppressed %s re-trigger for %s/%s: awaiting explicit target reset", dir, current.UserID, current.InstrumentCode)
		}
		return nil
	}

	if err := e.DB.MarkTriggered(current.UserID, current.InstrumentCode, dir, at); err != nil {
		e.Logger.Error("Failed to persist trigger state for %s/%s: %v", current.UserID, current.InstrumentCode, err)
		return nil
	}

	event := models.MAlertEvent{
		UserID:         current.UserID,
		InstrumentCode: current.InstrumentCode,
		InstrumentName: e.displayName(current.InstrumentCode),
		Direction:      dir,
		TargetPrice:    *configured,
		TriggerPrice:   price,
		TriggeredAt:    at,
	}

	// History row is best-effort: the state transition above is what
	// guarantees exactly-once per cooldown window.
	if err := e.DB.SaveAlertEvent(&event); err != nil {
		e.Logger.Error("Failed to save alert history for %s/%s: %v", current.UserID, current.InstrumentCode, err)
	}

	e.Logger.Info("Alert fired: user=%s instrument=%s dir=%s target=%s price=%s",
		event.UserID, event.InstrumentCode, event.Direction, event.TargetPrice, event.TriggerPrice)
	return &event
}

// -----------------------------------------------------------------------------

func crossed(dir models.MDirection, price, target decimal.Decimal) bool {
	if dir == models.DirectionUpper {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// -----------------------------------------------------------------------------

func (e *Engine) displayName(code string) string {
	if e.ResolveName != nil {
		if name := e.ResolveName(code); name != "" {
			return name
		}
	}
	return code
}

// -----------------------------------------------------------------------------

func (e *Engine) stripe(userID, instrumentCode string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(instrumentCode))
	return &e.locks[h.Sum32()%lockStripes]
}
