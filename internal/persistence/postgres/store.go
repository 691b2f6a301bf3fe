package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/tradelab/outcomes/internal/persistence"
)

// Open connects to PostgreSQL, applies pending migrations, and returns the
// repository store
func Open(ctx context.Context, dsn string, timeout time.Duration) (*persistence.Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := persistence.ApplyMigrations(ctx, db, Migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply postgres migrations: %w", err)
	}

	return persistence.NewStore(
		NewSignalsRepo(db, timeout),
		NewOutcomesRepo(db, timeout),
		db.Close,
	), nil
}
