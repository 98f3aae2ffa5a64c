package interfaces

import "tick-relay/src/models"

// -----------------------------------------------------------------------------
// IAlertPublisher hands trigger events to the outbound delivery mechanism.
// Delivery is at-least-once: a publish failure is logged by the caller and
// never rolls back the trigger state already persisted.
// -----------------------------------------------------------------------------

type IAlertPublisher interface {

	// Publish delivers one event, keyed by (user, instrument).
	Publish(event models.MAlertEvent) error

	// -----------------------------------------------------------------------------

	// Close releases the underlying transport.
	Close() error
}
