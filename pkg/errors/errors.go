package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for domain errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation error")
	ErrUnavailable      = errors.New("service unavailable")
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
	ErrPaymentInvalid   = errors.New("payment not actionable")
	ErrNoAnswer         = errors.New("participant did not answer")
	ErrEarlyDisconnect  = errors.New("participant disconnected early")
	ErrSystem           = errors.New("system error")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConcurrencyLimitError is returned when admission control refuses a session.
type ConcurrencyLimitError struct {
	Active int
	Limit  int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached: %d active sessions, limit %d", e.Active, e.Limit)
}

func (e *ConcurrencyLimitError) Unwrap() error { return ErrConcurrencyLimit }

// PaymentInvalidError reports a payment hold that can no longer be captured.
type PaymentInvalidError struct {
	IntentID string
	Status   string
}

func (e *PaymentInvalidError) Error() string {
	return fmt.Sprintf("payment %s not actionable (status %q)", e.IntentID, e.Status)
}

func (e *PaymentInvalidError) Unwrap() error { return ErrPaymentInvalid }

// NoAnswerError is returned once every dial attempt for a role is exhausted.
type NoAnswerError struct {
	Role     string
	Attempts int
}

func (e *NoAnswerError) Error() string {
	return fmt.Sprintf("%s did not answer after %d attempts", e.Role, e.Attempts)
}

func (e *NoAnswerError) Unwrap() error { return ErrNoAnswer }

// EarlyDisconnectError reports a participant leaving before the minimum duration.
type EarlyDisconnectError struct {
	Role    string
	Elapsed time.Duration
}

func (e *EarlyDisconnectError) Error() string {
	return fmt.Sprintf("%s disconnected after %s", e.Role, e.Elapsed)
}

func (e *EarlyDisconnectError) Unwrap() error { return ErrEarlyDisconnect }

// SystemError wraps an unexpected adapter or store failure.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Is(target error) bool { return target == ErrSystem }

func (e *SystemError) Unwrap() error { return e.Err }

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
