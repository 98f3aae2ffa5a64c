package alert

import (
	"sync"
	"time"

	"tick-relay/src/models"
)

// -----------------------------------------------------------------------------
// memDB is an in-memory IDatabase for exercising the alert paths without a
// real backend.
// -----------------------------------------------------------------------------

type memDB struct {
	mu          sync.Mutex
	targets     map[string]*models.MPriceTarget // userID|code
	events      []models.MAlertEvent
	instruments map[string]models.MInstrument
}

func newMemDB() *memDB {
	return &memDB{
		targets:     make(map[string]*models.MPriceTarget),
		instruments: make(map[string]models.MInstrument),
	}
}

func key(userID, code string) string { return userID + "|" + code }

func (m *memDB) Initialize() error { return nil }

func (m *memDB) GetPriceTarget(userID, code string) (*models.MPriceTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[key(userID, code)]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memDB) ListTargetsByUser(userID string) ([]models.MPriceTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MPriceTarget
	for _, t := range m.targets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memDB) ListEnabledTargets(code string) ([]models.MPriceTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MPriceTarget
	for _, t := range m.targets {
		if t.InstrumentCode == code && t.Enabled {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memDB) UpsertPriceTarget(t *models.MPriceTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.targets[key(t.UserID, t.InstrumentCode)] = &cp
	return nil
}

func (m *memDB) DeletePriceTarget(userID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, key(userID, code))
	return nil
}

func (m *memDB) MarkTriggered(userID, code string, dir models.MDirection, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[key(userID, code)]
	if !ok {
		return nil
	}
	ts := at
	if dir == models.DirectionUpper {
		t.UpperTriggered = true
		t.UpperTriggeredAt = &ts
	} else {
		t.LowerTriggered = true
		t.LowerTriggeredAt = &ts
	}
	return nil
}

func (m *memDB) SaveAlertEvent(e *models.MAlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memDB) ListAlertEvents(userID string, limit int) ([]models.MAlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MAlertEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].UserID == userID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *memDB) GetInstrument(code string) (*models.MInstrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[code]
	if !ok {
		return nil, nil
	}
	cp := inst
	return &cp, nil
}

func (m *memDB) UpsertInstruments(instruments []models.MInstrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range instruments {
		m.instruments[inst.Code] = inst
	}
	return nil
}

func (m *memDB) Close() error { return nil }
