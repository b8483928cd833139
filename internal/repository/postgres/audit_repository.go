package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/call-session-orchestrator/internal/domain"
)

// AuditRepository implements repository.AuditLog.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository builds the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts an audit record.
func (r *AuditRepository) Append(ctx context.Context, record domain.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	details, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("audit repo: marshal details: %w", err)
	}
	if record.Details == nil {
		details = []byte("{}")
	}

	q := `INSERT INTO session_audit (id, session_id, action, actor, details, created_at)
		VALUES (:id, :session_id, :action, :actor, :details, :created_at)`
	params := map[string]any{
		"id":         record.ID,
		"session_id": record.SessionID,
		"action":     record.Action,
		"actor":      record.Actor,
		"details":    string(details),
		"created_at": record.CreatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("audit repo: insert: %w", err)
	}
	return nil
}

// List returns the trail for a session, oldest first.
func (r *AuditRepository) List(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, session_id, action, actor, details, created_at
		FROM session_audit WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit repo: list: %w", err)
	}
	defer rows.Close()

	var results []domain.AuditRecord
	for rows.Next() {
		var rec auditRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("audit repo: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit repo: rows err: %w", err)
	}
	return results, nil
}

type auditRecord struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Action    string    `db:"action"`
	Actor     string    `db:"actor"`
	Details   []byte    `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}

func (r auditRecord) toDomain() domain.AuditRecord {
	var details map[string]any
	_ = json.Unmarshal(r.Details, &details)
	return domain.AuditRecord{
		ID:        r.ID,
		SessionID: r.SessionID,
		Action:    r.Action,
		Actor:     r.Actor,
		Details:   details,
		CreatedAt: r.CreatedAt,
	}
}
