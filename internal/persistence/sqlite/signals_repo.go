package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/tradelab/outcomes/internal/persistence"
)

const signalColumns = `id, symbol, category, detected_at, entry_at, entry_price,
	stop_price, target1, target2, anchor_price, atr, config_hash, created_at, updated_at`

// signalsRepo implements SignalsRepo for SQLite
type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo creates a new SQLite signals repository
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalsRepo {
	return &signalsRepo{db: db, timeout: timeout}
}

// Insert adds a signal record
func (r *signalsRepo) Insert(ctx context.Context, sig persistence.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES (:id, :symbol, :category, :detected_at, :entry_at, :entry_price,
			:stop_price, :target1, :target2, :anchor_price, :atr, :config_hash,
			:created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, sig); err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("duplicate signal: %w", err)
		}
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// GetByID returns a signal or nil when absent
func (r *signalsRepo) GetByID(ctx context.Context, id string) (*persistence.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sig persistence.Signal
	err := r.db.GetContext(ctx, &sig, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return &sig, nil
}

// DueCandidates selects signals due for resolution at one horizon, mirroring
// the postgres query with sqlx.In expansion for the category list
func (r *signalsRepo) DueCandidates(ctx context.Context, q persistence.CandidateQuery) ([]persistence.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entryCutoff := q.Now.Add(-time.Duration(q.HorizonMin)*time.Minute - q.Grace)
	retryBefore := q.Now.Add(-q.RetryCooldown)

	prefixed := make([]string, 0, 14)
	for _, col := range strings.Split(signalColumns, ",") {
		prefixed = append(prefixed, "s."+strings.TrimSpace(col))
	}

	query := `
		SELECT ` + strings.Join(prefixed, ", ") + `
		FROM signals s
		LEFT JOIN signal_outcomes o ON o.signal_id = s.id AND o.horizon_min = ?
		LEFT JOIN outcome_skips k ON k.signal_id = s.id AND k.horizon_min = ?
		WHERE s.entry_at <= ?
		  AND s.category IN (?)
		  AND k.signal_id IS NULL
		  AND (
			o.id IS NULL
			OR o.window_status = 'partial'
			OR (o.computed_at IS NOT NULL AND s.updated_at > o.computed_at)
			OR (o.window_status = 'invalid' AND o.retryable AND o.attempted_at <= ?)
		  )
		ORDER BY s.entry_at ASC
		LIMIT ?`

	query, args, err := sqlx.In(query,
		q.HorizonMin, q.HorizonMin, entryCutoff, q.Categories, retryBefore, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expand candidate query: %w", err)
	}

	var signals []persistence.Signal
	if err := r.db.SelectContext(ctx, &signals, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select due candidates: %w", err)
	}
	return signals, nil
}
