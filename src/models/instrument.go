package models

import "time"

// MInstrument is the slice of stock master data the coordinator needs:
// a code to display-name mapping for alert events.
type MInstrument struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}
