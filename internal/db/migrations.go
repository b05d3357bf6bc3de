package db

import (
	"context"
	"fmt"
)

// Migration is a named, idempotent DDL step.
type Migration struct {
	Name string
	SQL  string
}

// Migrations are applied in order. Every statement uses IF NOT EXISTS so
// running them repeatedly is safe.
var Migrations = []Migration{
	{
		Name: "001_state_tokens",
		SQL: `
CREATE TABLE IF NOT EXISTS state_tokens (
    value_hash    TEXT PRIMARY KEY,
    sealed_launch BYTEA NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    consumed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_state_tokens_expires_at
    ON state_tokens (expires_at);
`,
	},
	{
		Name: "002_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    sealed_token  BYTEA,
    state_history JSONB NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires_at
    ON sessions (expires_at);
`,
	},
}

// Migrate applies every migration through conn.
func Migrate(ctx context.Context, conn Conn) error {
	for _, m := range Migrations {
		if _, err := conn.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}
