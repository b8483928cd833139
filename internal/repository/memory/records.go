package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
)

// AuditLog is an in-memory append-only audit trail.
type AuditLog struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(_ context.Context, record domain.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()
	return nil
}

func (l *AuditLog) List(_ context.Context, sessionID string) ([]domain.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.AuditRecord
	for _, r := range l.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReviewRequests keeps one review request per session.
type ReviewRequests struct {
	mu   sync.Mutex
	byID map[string]domain.ReviewRequest
}

// NewReviewRequests creates an empty review request repository.
func NewReviewRequests() *ReviewRequests {
	return &ReviewRequests{byID: make(map[string]domain.ReviewRequest)}
}

func (r *ReviewRequests) Create(_ context.Context, req domain.ReviewRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[req.SessionID]; exists {
		return false, nil
	}
	r.byID[req.SessionID] = req
	return true, nil
}

func (r *ReviewRequests) Get(_ context.Context, sessionID string) (*domain.ReviewRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: review request %s", repository.ErrNotFound, sessionID)
	}
	return &req, nil
}

// AttemptLog keeps dial attempts grouped by session.
type AttemptLog struct {
	mu        sync.Mutex
	bySession map[string][]domain.DialAttempt
}

// NewAttemptLog creates an empty attempt log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{bySession: make(map[string][]domain.DialAttempt)}
}

func (l *AttemptLog) AppendAttempt(_ context.Context, attempt domain.DialAttempt) error {
	l.mu.Lock()
	l.bySession[attempt.SessionID] = append(l.bySession[attempt.SessionID], attempt)
	l.mu.Unlock()
	return nil
}

func (l *AttemptLog) ListAttempts(_ context.Context, sessionID string) ([]domain.DialAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DialAttempt(nil), l.bySession[sessionID]...), nil
}
