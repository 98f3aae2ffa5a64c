package helpers

import (
	"errors"
	"fmt"
	"time"

	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type TickRelayError struct {
	Message string
	Cause   error
}

func (e *TickRelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TickRelayError) Unwrap() error {
	return e.Cause
}

// Helper to define distinct error types for type assertions if needed
type ConfigurationError struct{ TickRelayError }
type UpstreamError struct{ TickRelayError }
type DatabaseError struct{ TickRelayError }
type ValidationError struct{ TickRelayError }

func NewUpstreamError(message string, cause error) *UpstreamError {
	return &UpstreamError{TickRelayError{Message: message, Cause: cause}}
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{TickRelayError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Business Rule Violations
// -----------------------------------------------------------------------------

// BusinessRuleError rejects a caller request that conflicts with existing
// state (e.g. an upper target at or below the configured lower target).
type BusinessRuleError struct {
	Code    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// -----------------------------------------------------------------------------

func NewBusinessRuleError(format string, args ...interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Code:    "BUSINESS_RULE_VIOLATION",
		Message: fmt.Sprintf(format, args...),
	}
}

// -----------------------------------------------------------------------------

// IsBusinessRuleError reports whether err is (or wraps) a rule violation.
func IsBusinessRuleError(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff(operation string, maxRetries int, baseDelay time.Duration, log *logger.Logger, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, lastErr, delay)
		time.Sleep(delay)
	}

	return &TickRelayError{Message: fmt.Sprintf("%s failed after %d attempts", operation, maxRetries), Cause: lastErr}
}
