package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradelab/outcomes/internal/persistence"
)

const signalColumns = `id, symbol, category, detected_at, entry_at, entry_price,
	stop_price, target1, target2, anchor_price, atr, config_hash, created_at, updated_at`

// signalsRepo implements SignalsRepo for PostgreSQL
type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo creates a new PostgreSQL signals repository
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
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
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
	err := r.db.GetContext(ctx, &sig, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return &sig, nil
}

// DueCandidates selects signals due for resolution at one horizon. A signal
// qualifies when its entry is at least horizon+grace in the past, its
// category is tracked, no skip marker exists, and the outcome row is
// missing, partial, stale, or a retryable invalid past its cooldown.
func (r *signalsRepo) DueCandidates(ctx context.Context, q persistence.CandidateQuery) ([]persistence.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entryCutoff := q.Now.Add(-time.Duration(q.HorizonMin)*time.Minute - q.Grace)
	retryBefore := q.Now.Add(-q.RetryCooldown)

	query := `
		SELECT s.id, s.symbol, s.category, s.detected_at, s.entry_at, s.entry_price,
		       s.stop_price, s.target1, s.target2, s.anchor_price, s.atr,
		       s.config_hash, s.created_at, s.updated_at
		FROM signals s
		LEFT JOIN signal_outcomes o ON o.signal_id = s.id AND o.horizon_min = $1
		LEFT JOIN outcome_skips k ON k.signal_id = s.id AND k.horizon_min = $1
		WHERE s.entry_at <= $2
		  AND s.category = ANY($3)
		  AND k.signal_id IS NULL
		  AND (
			o.id IS NULL
			OR o.window_status = 'partial'
			OR (o.computed_at IS NOT NULL AND s.updated_at > o.computed_at)
			OR (o.window_status = 'invalid' AND o.retryable AND o.attempted_at <= $4)
		  )
		ORDER BY s.entry_at ASC
		LIMIT $5`

	var signals []persistence.Signal
	err := r.db.SelectContext(ctx, &signals, query,
		q.HorizonMin, entryCutoff, pq.Array(q.Categories), retryBefore, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due candidates: %w", err)
	}
	return signals, nil
}
