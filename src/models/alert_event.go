package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MAlertEvent is emitted when a tick crosses a configured target.
// Ephemeral on the hot path; a copy is persisted for history/audit.
type MAlertEvent struct {
	UserID         string          `json:"user_id"`
	InstrumentCode string          `json:"instrument_code"`
	InstrumentName string          `json:"instrument_name"`
	Direction      MDirection      `json:"direction"`
	TargetPrice    decimal.Decimal `json:"target_price"`
	TriggerPrice   decimal.Decimal `json:"trigger_price"`
	TriggeredAt    time.Time       `json:"triggered_at"`
}
