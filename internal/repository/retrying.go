package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acme/call-session-orchestrator/internal/domain"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

// Retrying wraps a SessionStore and retries transient failures.
type Retrying struct {
	inner    SessionStore
	attempts int
	step     time.Duration
}

// NewRetrying wraps inner with attempts tries and a linear backoff of step per try.
func NewRetrying(inner SessionStore, attempts int, step time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = 3
	}
	return &Retrying{inner: inner, attempts: attempts, step: step}
}

func (r *Retrying) Get(ctx context.Context, id string) (*domain.CallSession, error) {
	var out *domain.CallSession
	err := r.do(ctx, "session store: get", func() error {
		var err error
		out, err = r.inner.Get(ctx, id)
		return err
	})
	return out, err
}

func (r *Retrying) Set(ctx context.Context, session *domain.CallSession) error {
	return r.do(ctx, "session store: set", func() error {
		return r.inner.Set(ctx, session)
	})
}

func (r *Retrying) Update(ctx context.Context, id string, fields Fields, conds ...Condition) error {
	return r.do(ctx, "session store: update", func() error {
		return r.inner.Update(ctx, id, fields, conds...)
	})
}

func (r *Retrying) IncrementField(ctx context.Context, id, path string) (int, error) {
	var out int
	err := r.do(ctx, "session store: increment", func() error {
		var err error
		out, err = r.inner.IncrementField(ctx, id, path)
		return err
	})
	return out, err
}

func (r *Retrying) Query(ctx context.Context, filters ...Filter) ([]*domain.CallSession, error) {
	var out []*domain.CallSession
	err := r.do(ctx, "session store: query", func() error {
		var err error
		out, err = r.inner.Query(ctx, filters...)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: r.step}, uint64(r.attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err == nil || permanent(err) {
		return err
	}
	return &apperrors.SystemError{Op: op, Err: err}
}

// permanent errors describe the document, not the store, and are never retried.
func permanent(err error) bool {
	return apperrors.Is(err, ErrNotFound) ||
		apperrors.Is(err, ErrConflict) ||
		apperrors.Is(err, apperrors.ErrValidation) ||
		apperrors.Is(err, context.Canceled)
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
