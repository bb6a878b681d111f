package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCases = `
CREATE TABLE IF NOT EXISTS cases (
    id            UUID         PRIMARY KEY,
    title         TEXT         NOT NULL,
    description   TEXT         NOT NULL DEFAULT '',
    status        TEXT         NOT NULL DEFAULT 'pending',
    phone_number  TEXT         NOT NULL DEFAULT 'unknown',
    transcription TEXT         NOT NULL DEFAULT '',
    transcript    JSONB        NOT NULL DEFAULT '[]',
    category      TEXT         NOT NULL DEFAULT '',
    service_type  TEXT         NOT NULL DEFAULT '',
    priority      TEXT         NOT NULL DEFAULT '',
    district      TEXT         NOT NULL DEFAULT '',
    audio_url     TEXT         NOT NULL DEFAULT '',
    metadata      JSONB        NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cases_status     ON cases (status);
CREATE INDEX IF NOT EXISTS idx_cases_priority   ON cases (priority);
`

// Migrate creates the cases table and its indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCases} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
