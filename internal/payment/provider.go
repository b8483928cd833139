// Package payment abstracts the provider holding the session's funds.
package payment

import (
	"context"
)

// Provider-side intent statuses.
const (
	IntentRequiresCapture = "requires_capture"
	IntentSucceeded       = "succeeded"
	IntentCanceled        = "canceled"
)

// Intent is the provider view of a payment hold.
type Intent struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
}

// Actionable reports whether the hold can still be captured.
func (i Intent) Actionable() bool {
	return i.Status == IntentRequiresCapture
}

// Provider captures, cancels and refunds payment holds.
// Mutating calls carry an idempotency key so a retried call has no extra effect.
type Provider interface {
	GetPayment(ctx context.Context, intentID string) (*Intent, error)
	Capture(ctx context.Context, intentID, idempotencyKey string) error
	Cancel(ctx context.Context, intentID, idempotencyKey string) error
	Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (string, error)
}
