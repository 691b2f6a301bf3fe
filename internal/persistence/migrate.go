package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Migration is one named, ordered, idempotent schema change. Names are
// recorded in schema_migrations so each migration applies at most once.
// This mechanism is a schema concern, independent of the resolve-version
// gate (a data-recomputation concern).
type Migration struct {
	Name string
	SQL  string
}

// ApplyMigrations applies pending migrations in order and returns how many
// ran. Each migration runs in its own transaction together with its
// bookkeeping row.
func ApplyMigrations(ctx context.Context, db *sqlx.DB, migrations []Migration) (int, error) {
	if err := validateMigrations(migrations); err != nil {
		return 0, err
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		done, err := isApplied(ctx, db, m.Name)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO schema_migrations (name) VALUES (?)`), m.Name); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %s: %w", m.Name, err)
		}

		log.Info().Str("migration", m.Name).Msg("schema migration applied")
		applied++
	}
	return applied, nil
}

// validateMigrations rejects duplicate or empty names before anything runs
func validateMigrations(migrations []Migration) error {
	seen := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		if m.Name == "" {
			return fmt.Errorf("migration with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate migration name: %s", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func isApplied(ctx context.Context, db *sqlx.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowxContext(ctx, db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`), name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", name, err)
	}
	return count > 0, nil
}
