package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tradelab/outcomes/internal/persistence"
)

// Open opens (or creates) the SQLite database at path, applies pending
// migrations, and returns the repository store. Foreign keys and WAL are
// enabled via DSN parameters; the single-writer limit is enforced with a
// one-connection pool.
func Open(ctx context.Context, path string, timeout time.Duration) (*persistence.Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := persistence.ApplyMigrations(ctx, db, Migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite migrations: %w", err)
	}

	return persistence.NewStore(
		NewSignalsRepo(db, timeout),
		NewOutcomesRepo(db, timeout),
		db.Close,
	), nil
}
