package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acme/call-session-orchestrator/internal/domain"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

type flakyStore struct {
	SessionStore
	failures int
	calls    int
	err      error
}

func (f *flakyStore) Update(context.Context, string, Fields, ...Condition) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) Get(context.Context, string) (*domain.CallSession, error) {
	f.calls++
	return nil, f.err
}

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	inner := &flakyStore{failures: 2, err: errors.New("connection reset")}
	store := NewRetrying(inner, 3, time.Millisecond)

	if err := store.Update(context.Background(), "s1", Fields{"status": "failed"}); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingGivesUpAsSystemError(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errors.New("connection reset")}
	store := NewRetrying(inner, 3, time.Millisecond)

	err := store.Update(context.Background(), "s1", Fields{"status": "failed"})
	if !apperrors.Is(err, apperrors.ErrSystem) {
		t.Fatalf("expected system error, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyStore{err: ErrNotFound}
	store := NewRetrying(inner, 3, time.Millisecond)

	_, err := store.Get(context.Background(), "missing")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single call, got %d", inner.calls)
	}
}
