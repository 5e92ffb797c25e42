package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Migrations creates the alert audit schema. Statements are idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS alert_history (
		time          TIMESTAMPTZ NOT NULL,
		alert_id      TEXT        NOT NULL,
		definition_id TEXT        NOT NULL,
		symbol        TEXT        NOT NULL,
		kind          TEXT        NOT NULL,
		message       TEXT        NOT NULL,
		PRIMARY KEY (alert_id, time)
	)`,
	`CREATE INDEX IF NOT EXISTS alert_history_symbol_time_idx ON alert_history (symbol, time DESC)`,
}

// Migrate runs every statement in Migrations, stopping at the first failure
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for i, stmt := range Migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
		logger.Debug().Int("migration", i).Msg("Migration applied")
	}
	logger.Info().Int("count", len(Migrations)).Msg("All migrations completed")
	return nil
}
