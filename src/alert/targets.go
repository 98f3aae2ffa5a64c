package alert

import (
	"errors"
	"time"

	"tick-relay/src/helpers"
	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"

	"github.com/shopspring/decimal"
)

// ErrTargetNotFound is returned when clearing a direction that is not set.
var ErrTargetNotFound = errors.New("price target not found")

// -----------------------------------------------------------------------------
// TargetService owns the target set/clear operations exposed to the account
// API. Setting a direction resets that direction's trigger state; clearing
// the last remaining direction deletes the whole record.
// -----------------------------------------------------------------------------

type TargetService struct {
	DB     interfaces.IDatabase
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewTargetService(db interfaces.IDatabase, log *logger.Logger) *TargetService {
	return &TargetService{DB: db, Logger: log}
}

// -----------------------------------------------------------------------------

// SetUpperTarget creates or updates the UPPER direction. Rejected when the
// existing lower target is at or above the new price.
func (s *TargetService) SetUpperTarget(userID, instrumentCode string, price decimal.Decimal) (*models.MPriceTarget, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, helpers.NewBusinessRuleError("target price must be positive, got %s", price)
	}

	target, err := s.DB.GetPriceTarget(userID, instrumentCode)
	if err != nil {
		return nil, err
	}

	if target != nil && target.LowerTarget != nil && target.LowerTarget.GreaterThanOrEqual(price) {
		return nil, helpers.NewBusinessRuleError(
			"upper target %s must be above the configured lower target %s", price, target.LowerTarget)
	}

	now := time.Now().UTC()
	if target == nil {
		target = &models.MPriceTarget{
			UserID:         userID,
			InstrumentCode: instrumentCode,
			CreatedAt:      now,
		}
	}

	target.UpperTarget = models.DecimalPtr(price)
	target.Enabled = true
	target.UpperTriggered = false
	target.UpperTriggeredAt = nil
	target.UpdatedAt = now

	if err := s.DB.UpsertPriceTarget(target); err != nil {
		return nil, err
	}

	s.Logger.Info("Set upper target %s for %s/%s", price, userID, instrumentCode)
	return target, nil
}

// -----------------------------------------------------------------------------

// SetLowerTarget creates or updates the LOWER direction. Rejected when the
// existing upper target is at or below the new price.
func (s *TargetService) SetLowerTarget(userID, instrumentCode string, price decimal.Decimal) (*models.MPriceTarget, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, helpers.NewBusinessRuleError("target price must be positive, got %s", price)
	}

	target, err := s.DB.GetPriceTarget(userID, instrumentCode)
	if err != nil {
		return nil, err
	}

	if target != nil && target.UpperTarget != nil && target.UpperTarget.LessThanOrEqual(price) {
		return nil, helpers.NewBusinessRuleError(
			"lower target %s must be below the configured upper target %s", price, target.UpperTarget)
	}

	now := time.Now().UTC()
	if target == nil {
		target = &models.MPriceTarget{
			UserID:         userID,
			InstrumentCode: instrumentCode,
			CreatedAt:      now,
		}
	}

	target.LowerTarget = models.DecimalPtr(price)
	target.Enabled = true
	target.LowerTriggered = false
	target.LowerTriggeredAt = nil
	target.UpdatedAt = now

	if err := s.DB.UpsertPriceTarget(target); err != nil {
		return nil, err
	}

	s.Logger.Info("Set lower target %s for %s/%s", price, userID, instrumentCode)
	return target, nil
}

// -----------------------------------------------------------------------------

// ClearUpperTarget removes the UPPER direction. The record is deleted
// entirely when no direction remains configured.
func (s *TargetService) ClearUpperTarget(userID, instrumentCode string) error {
	target, err := s.DB.GetPriceTarget(userID, instrumentCode)
	if err != nil {
		return err
	}
	if target == nil || target.UpperTarget == nil {
		return ErrTargetNotFound
	}

	target.UpperTarget = nil
	target.UpperTriggered = false
	target.UpperTriggeredAt = nil
	target.UpdatedAt = time.Now().UTC()

	if target.Empty() {
		s.Logger.Info("Deleting empty price target for %s/%s", userID, instrumentCode)
		return s.DB.DeletePriceTarget(userID, instrumentCode)
	}
	return s.DB.UpsertPriceTarget(target)
}

// -----------------------------------------------------------------------------

// ClearLowerTarget removes the LOWER direction, symmetric to the above.
func (s *TargetService) ClearLowerTarget(userID, instrumentCode string) error {
	target, err := s.DB.GetPriceTarget(userID, instrumentCode)
	if err != nil {
		return err
	}
	if target == nil || target.LowerTarget == nil {
		return ErrTargetNotFound
	}

	target.LowerTarget = nil
	target.LowerTriggered = false
	target.LowerTriggeredAt = nil
	target.UpdatedAt = time.Now().UTC()

	if target.Empty() {
		s.Logger.Info("Deleting empty price target for %s/%s", userID, instrumentCode)
		return s.DB.DeletePriceTarget(userID, instrumentCode)
	}
	return s.DB.UpsertPriceTarget(target)
}

// -----------------------------------------------------------------------------

// ListTargets returns every target the user has configured.
func (s *TargetService) ListTargets(userID string) ([]models.MPriceTarget, error) {
	return s.DB.ListTargetsByUser(userID)
}

// -----------------------------------------------------------------------------

// ListHistory returns the user's most recent trigger events.
func (s *TargetService) ListHistory(userID string, limit int) ([]models.MAlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.DB.ListAlertEvents(userID, limit)
}
