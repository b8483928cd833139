package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_sessions (
		id          TEXT PRIMARY KEY,
		doc         JSONB NOT NULL,
		status      TEXT GENERATED ALWAYS AS (doc->>'status') STORED,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS call_sessions_status_idx ON call_sessions (status)`,
	`CREATE INDEX IF NOT EXISTS call_sessions_conference_idx ON call_sessions ((doc #>> '{conference,name}'))`,
	`CREATE TABLE IF NOT EXISTS session_audit (
		id          UUID PRIMARY KEY,
		session_id  TEXT NOT NULL,
		action      TEXT NOT NULL,
		actor       TEXT NOT NULL,
		details     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS session_audit_session_idx ON session_audit (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS review_requests (
		session_id   TEXT PRIMARY KEY,
		provider_id  TEXT NOT NULL,
		client_id    TEXT NOT NULL,
		duration     INTEGER NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables used by the Postgres repositories.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	return withTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("postgres schema: %w", err)
			}
		}
		return nil
	})
}
