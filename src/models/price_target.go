package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Alert Direction
// -----------------------------------------------------------------------------

type MDirection string

const (
	DirectionUpper MDirection = "UPPER"
	DirectionLower MDirection = "LOWER"
)

// -----------------------------------------------------------------------------
// Price Target
// -----------------------------------------------------------------------------

// MPriceTarget is one record per (user, instrument). A nil target means that
// direction is not configured; when both are nil the record is deleted.
type MPriceTarget struct {
	UserID         string           `json:"user_id"`
	InstrumentCode string           `json:"instrument_code"`
	UpperTarget    *decimal.Decimal `json:"upper_target,omitempty"`
	LowerTarget    *decimal.Decimal `json:"lower_target,omitempty"`
	Enabled        bool             `json:"enabled"`

	UpperTriggered   bool       `json:"upper_triggered"`
	UpperTriggeredAt *time.Time `json:"upper_triggered_at,omitempty"`
	LowerTriggered   bool       `json:"lower_triggered"`
	LowerTriggeredAt *time.Time `json:"lower_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------

// Triggered reports the trigger state for one direction.
func (t *MPriceTarget) Triggered(dir MDirection) (bool, *time.Time) {
	if dir == DirectionUpper {
		return t.UpperTriggered, t.UpperTriggeredAt
	}
	return t.LowerTriggered, t.LowerTriggeredAt
}

// -----------------------------------------------------------------------------

// Target returns the configured price for one direction (nil if unset).
func (t *MPriceTarget) Target(dir MDirection) *decimal.Decimal {
	if dir == DirectionUpper {
		return t.UpperTarget
	}
	return t.LowerTarget
}

// -----------------------------------------------------------------------------

// Empty reports whether both directions are unset.
func (t *MPriceTarget) Empty() bool {
	return t.UpperTarget == nil && t.LowerTarget == nil
}

// -----------------------------------------------------------------------------

// DecimalPtr is a convenience for building optional target values.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
