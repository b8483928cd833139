package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
)

// ReviewRepository implements repository.ReviewRequests.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository builds the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts the request unless one already exists for the session.
func (r *ReviewRepository) Create(ctx context.Context, req domain.ReviewRequest) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO review_requests (session_id, provider_id, client_id, duration, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (session_id) DO NOTHING`,
		req.SessionID, req.ProviderID, req.ClientID, req.Duration, req.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("review repo: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// Get returns the review request for a session.
func (r *ReviewRepository) Get(ctx context.Context, sessionID string) (*domain.ReviewRequest, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT session_id, provider_id, client_id, duration, created_at
		FROM review_requests WHERE session_id = $1`, sessionID)

	var rec reviewRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: review request %s", repository.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("review repo: get: %w", err)
	}
	req := domain.ReviewRequest(rec)
	return &req, nil
}

type reviewRecord struct {
	SessionID  string    `db:"session_id"`
	ProviderID string    `db:"provider_id"`
	ClientID   string    `db:"client_id"`
	Duration   int       `db:"duration"`
	CreatedAt  time.Time `db:"created_at"`
}
