package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/call-session-orchestrator/internal/domain"
)

const attemptTableDDL = `CREATE TABLE IF NOT EXISTS dial_attempts (
	session_id text,
	role text,
	attempt_number int,
	call_id text,
	connected boolean,
	error text,
	started_at timestamp,
	finished_at timestamp,
	PRIMARY KEY ((session_id), role, attempt_number)
) WITH CLUSTERING ORDER BY (role ASC, attempt_number ASC)`

// AttemptLog persists dial attempts in Scylla, partitioned by session.
type AttemptLog struct {
	session *gocql.Session
	ttl     time.Duration
}

// NewAttemptLog creates a new attempt log. Rows expire after ttl when positive.
func NewAttemptLog(session *gocql.Session, ttl time.Duration) *AttemptLog {
	return &AttemptLog{session: session, ttl: ttl}
}

// EnsureSchema creates the attempts table in the session keyspace.
func (l *AttemptLog) EnsureSchema(ctx context.Context) error {
	if err := l.session.Query(attemptTableDDL).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt log: create table: %w", err)
	}
	return nil
}

// AppendAttempt writes one dial attempt.
func (l *AttemptLog) AppendAttempt(ctx context.Context, attempt domain.DialAttempt) error {
	var lastError *string
	if attempt.Error != "" {
		lastError = &attempt.Error
	}
	if err := l.session.Query(`INSERT INTO dial_attempts (session_id, role, attempt_number, call_id, connected, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`,
		attempt.SessionID, string(attempt.Role), attempt.AttemptNum, attempt.CallID, attempt.Connected,
		lastError, attempt.StartedAt, attempt.FinishedAt, int(l.ttl/time.Second),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt log: append attempt: %w", err)
	}
	return nil
}

// ListAttempts returns every attempt for a session ordered by role then number.
func (l *AttemptLog) ListAttempts(ctx context.Context, sessionID string) ([]domain.DialAttempt, error) {
	iter := l.session.Query(`SELECT role, attempt_number, call_id, connected, error, started_at, finished_at
		FROM dial_attempts WHERE session_id = ?`, sessionID).WithContext(ctx).Iter()

	var (
		attempts   []domain.DialAttempt
		role       string
		number     int
		callID     string
		connected  bool
		lastError  *string
		startedAt  time.Time
		finishedAt time.Time
	)
	for iter.Scan(&role, &number, &callID, &connected, &lastError, &startedAt, &finishedAt) {
		attempt := domain.DialAttempt{
			SessionID:  sessionID,
			Role:       domain.Role(role),
			AttemptNum: number,
			CallID:     callID,
			Connected:  connected,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if lastError != nil {
			attempt.Error = *lastError
		}
		attempts = append(attempts, attempt)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt log: iter close: %w", err)
	}
	return attempts, nil
}
