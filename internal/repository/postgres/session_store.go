package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
)

// SessionStore implements repository.SessionStore as a JSONB document table.
type SessionStore struct {
	db *sqlx.DB
}

// NewSessionStore constructs the store.
func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get fetches a session document by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.CallSession, error) {
	var doc []byte
	if err := s.db.QueryRowxContext(ctx, `SELECT doc FROM call_sessions WHERE id = $1`, id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("session store: get: %w", err)
	}
	return decodeSession(doc)
}

// Set inserts a new session document.
func (s *SessionStore) Set(ctx context.Context, session *domain.CallSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session store: marshal: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO call_sessions (id, doc, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, $3)
		ON CONFLICT (id) DO NOTHING`, session.ID, string(doc), session.Metadata.CreatedAt)
	if err != nil {
		return fmt.Errorf("session store: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s already exists", repository.ErrConflict, session.ID)
	}
	return nil
}

// Update chains jsonb_set over every field and applies the conditions in the WHERE clause.
func (s *SessionStore) Update(ctx context.Context, id string, fields repository.Fields, conds ...repository.Condition) error {
	query, args, err := buildUpdate(id, fields, conds, time.Now().UTC())
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("session store: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session store: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("session store: exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
	}
	return fmt.Errorf("%w: session %s: precondition failed", repository.ErrConflict, id)
}

// IncrementField adds one to the numeric value at path and returns the result.
func (s *SessionStore) IncrementField(ctx context.Context, id, path string) (int, error) {
	var next int
	err := s.db.QueryRowxContext(ctx, `UPDATE call_sessions
		SET doc = jsonb_set(doc, $2::text[], to_jsonb(COALESCE((doc #>> $2::text[])::int, 0) + 1), true),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING (doc #>> $2::text[])::int`, id, pgPath(path)).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
		}
		return 0, fmt.Errorf("session store: increment %s: %w", path, err)
	}
	return next, nil
}

// Query returns sessions matching every filter ordered by creation time.
func (s *SessionStore) Query(ctx context.Context, filters ...repository.Filter) ([]*domain.CallSession, error) {
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters)*2)
	for _, f := range filters {
		if len(f.In) == 0 {
			return nil, nil
		}
		if f.Field == "status" {
			clauses = append(clauses, "status IN (?)")
			args = append(args, f.In)
			continue
		}
		clauses = append(clauses, "doc #>> ?::text[] IN (?)")
		args = append(args, pgPath(f.Field), f.In)
	}

	query := `SELECT doc FROM call_sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: build query: %w", err)
	}
	query = s.db.Rebind(query)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: query: %w", err)
	}
	defer rows.Close()

	var results []*domain.CallSession
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("session store: scan: %w", err)
		}
		session, err := decodeSession(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session store: rows err: %w", err)
	}
	return results, nil
}

func buildUpdate(id string, fields repository.Fields, conds []repository.Condition, now time.Time) (string, []any, error) {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	args := []any{id}
	expr := "doc"
	set := func(path string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("session store: marshal %s: %w", path, err)
		}
		args = append(args, pgPath(path), string(raw))
		expr = fmt.Sprintf("jsonb_set(%s, $%d::text[], $%d::jsonb, true)", expr, len(args)-1, len(args))
		return nil
	}
	for _, path := range paths {
		if err := set(path, fields[path]); err != nil {
			return "", nil, err
		}
	}
	if err := set("metadata.updatedAt", now); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("UPDATE call_sessions SET doc = ")
	b.WriteString(expr)
	b.WriteString(", updated_at = NOW() WHERE id = $1")
	for _, cond := range conds {
		if cond.Field == "status" {
			args = append(args, cond.In)
			fmt.Fprintf(&b, " AND status = ANY($%d)", len(args))
			continue
		}
		args = append(args, pgPath(cond.Field), cond.In)
		fmt.Fprintf(&b, " AND doc #>> $%d::text[] = ANY($%d)", len(args)-1, len(args))
	}
	return b.String(), args, nil
}

// pgPath turns "a.b.c" into the text[] literal "{a,b,c}".
func pgPath(path string) string {
	return "{" + strings.ReplaceAll(path, ".", ",") + "}"
}

func decodeSession(doc []byte) (*domain.CallSession, error) {
	var session domain.CallSession
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("session store: decode: %w", err)
	}
	return &session, nil
}
