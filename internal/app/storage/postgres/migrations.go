package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS raffle_snapshots (
		id             SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		state          TEXT NOT NULL,
		entrants       JSONB NOT NULL DEFAULT '[]'::jsonb,
		pot            BIGINT NOT NULL CHECK (pot >= 0),
		recent_winner  TEXT NOT NULL DEFAULT '',
		last_timestamp TIMESTAMPTZ NOT NULL,
		taken_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raffle_winners (
		request_id BIGINT PRIMARY KEY,
		winner     TEXT NOT NULL,
		payout     BIGINT NOT NULL,
		picked_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS raffle_winners_picked_at_idx ON raffle_winners (picked_at DESC)`,
	`ALTER TABLE raffle_snapshots ADD COLUMN IF NOT EXISTS balances JSONB`,
}

// Migrate creates the tables used by Store.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
