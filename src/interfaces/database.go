package interfaces

import (
	"time"

	"tick-relay/src/models"
)

// -----------------------------------------------------------------------------
// IDatabase defines the contract for price-target and instrument storage.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// GetPriceTarget loads one record, (nil, nil) when absent.
	GetPriceTarget(userID, instrumentCode string) (*models.MPriceTarget, error)

	// -----------------------------------------------------------------------------

	// ListTargetsByUser returns every target a user has configured.
	ListTargetsByUser(userID string) ([]models.MPriceTarget, error)

	// -----------------------------------------------------------------------------

	// ListEnabledTargets returns all enabled targets for one instrument.
	ListEnabledTargets(instrumentCode string) ([]models.MPriceTarget, error)

	// -----------------------------------------------------------------------------

	// UpsertPriceTarget creates or fully replaces a record.
	UpsertPriceTarget(target *models.MPriceTarget) error

	// -----------------------------------------------------------------------------

	// DeletePriceTarget removes a record entirely.
	DeletePriceTarget(userID, instrumentCode string) error

	// -----------------------------------------------------------------------------

	// MarkTriggered persists triggered=true and triggeredAt for one direction.
	MarkTriggered(userID, instrumentCode string, dir models.MDirection, at time.Time) error

	// -----------------------------------------------------------------------------

	// SaveAlertEvent records an emitted trigger for history/audit.
	SaveAlertEvent(event *models.MAlertEvent) error

	// -----------------------------------------------------------------------------

	// ListAlertEvents returns the most recent triggers for a user.
	ListAlertEvents(userID string, limit int) ([]models.MAlertEvent, error)

	// -----------------------------------------------------------------------------

	// GetInstrument looks up stock master data, (nil, nil) when unknown.
	GetInstrument(code string) (*models.MInstrument, error)

	// -----------------------------------------------------------------------------

	// UpsertInstruments refreshes stock master rows.
	UpsertInstruments(instruments []models.MInstrument) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
