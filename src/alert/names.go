package alert

import (
	"sync"
	"time"

	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"
)

// -----------------------------------------------------------------------------
// NameResolver maps instrument codes to display names for alert events.
// Lookups go memory cache, then the instruments table, then the account
// service; fetched names are written back to the table so the next process
// start does not need the remote call.
// -----------------------------------------------------------------------------

type NameResolver struct {
	DB     interfaces.IDatabase
	Fetch  func(code string) string
	Logger *logger.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// -----------------------------------------------------------------------------

func NewNameResolver(db interfaces.IDatabase, fetch func(string) string, log *logger.Logger) *NameResolver {
	return &NameResolver{
		DB:     db,
		Fetch:  fetch,
		Logger: log,
		cache:  make(map[string]string),
	}
}

// -----------------------------------------------------------------------------

// Resolve returns the display name for a code, "" when unknown. Unknown codes
// are not cached, so a later alert retries the lookup.
func (r *NameResolver) Resolve(code string) string {
	r.mu.RLock()
	if name, ok := r.cache[code]; ok {
		r.mu.RUnlock()
		return name
	}
	r.mu.RUnlock()

	if r.DB != nil {
		inst, err := r.DB.GetInstrument(code)
		if err != nil {
			r.Logger.Error("Instrument lookup failed for %s: %v", code, err)
		} else if inst != nil && inst.Name != "" {
			r.remember(code, inst.Name)
			return inst.Name
		}
	}

	if r.Fetch == nil {
		return ""
	}
	name := r.Fetch(code)
	if name == "" {
		return ""
	}

	if r.DB != nil {
		row := models.MInstrument{Code: code, Name: name, UpdatedAt: time.Now().UTC()}
		if err := r.DB.UpsertInstruments([]models.MInstrument{row}); err != nil {
			r.Logger.Error("Failed to store instrument name for %s: %v", code, err)
		}
	}

	r.remember(code, name)
	return name
}

// -----------------------------------------------------------------------------

func (r *NameResolver) remember(code, name string) {
	r.mu.Lock()
	r.cache[code] = name
	r.mu.Unlock()
}
