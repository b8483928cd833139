package repository

import (
	"context"

	"github.com/acme/call-session-orchestrator/internal/domain"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation or a failed precondition.
	ErrConflict = apperrors.ErrConflict
)

// Fields maps dotted document paths (e.g. "participants.provider.status") to new values.
type Fields map[string]any

// Condition restricts an update to documents whose Field currently holds one of In.
type Condition struct {
	Field string
	In    []string
}

// Filter matches documents whose Field holds one of In.
type Filter struct {
	Field string
	In    []string
}

// Eq builds a single-value filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, In: []string{value}}
}

// StatusIn builds a condition on the session status.
func StatusIn(statuses ...domain.SessionStatus) Condition {
	in := make([]string, 0, len(statuses))
	for _, s := range statuses {
		in = append(in, string(s))
	}
	return Condition{Field: "status", In: in}
}

// NotTerminal guards an update on the session still being active.
func NotTerminal() Condition {
	return StatusIn(domain.ActiveStatuses...)
}

// SessionStore persists call session documents.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.CallSession, error)
	// Set creates the document; it fails with ErrConflict when the id exists.
	Set(ctx context.Context, session *domain.CallSession) error
	// Update applies fields atomically; a failed condition returns ErrConflict.
	Update(ctx context.Context, id string, fields Fields, conds ...Condition) error
	// IncrementField atomically adds one to a numeric path and returns the new value.
	IncrementField(ctx context.Context, id, path string) (int, error)
	Query(ctx context.Context, filters ...Filter) ([]*domain.CallSession, error)
}

// AttemptLog records individual dial attempts.
type AttemptLog interface {
	AppendAttempt(ctx context.Context, attempt domain.DialAttempt) error
	ListAttempts(ctx context.Context, sessionID string) ([]domain.DialAttempt, error)
}

// AuditLog is an append-only trail of session actions.
type AuditLog interface {
	Append(ctx context.Context, record domain.AuditRecord) error
	List(ctx context.Context, sessionID string) ([]domain.AuditRecord, error)
}

// ReviewRequests stores post-call review requests, at most one per session.
type ReviewRequests interface {
	// Create returns false when a request already exists for the session.
	Create(ctx context.Context, req domain.ReviewRequest) (bool, error)
	Get(ctx context.Context, sessionID string) (*domain.ReviewRequest, error)
}
