package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tradelab/outcomes/internal/outcome"
	"github.com/tradelab/outcomes/internal/persistence"
)

const outcomeColumns = `id, signal_id, symbol, horizon_min, window_start, window_end,
	interval_min, candles_expected, candles_observed, coverage_pct,
	window_status, outcome_state, trade_state, exit_reason, exit_price,
	exit_time, ambiguous, hit_stop, hit_target1, hit_target2, stop_hit_at,
	target1_hit_at, target2_hit_at, max_high, min_low, last_close,
	return_pct, risk_multiple, realized_risk, mfe_r, mae_r, bars_to_exit,
	completion_reason, failure_driver, retryable, resolve_version,
	debug_snapshot, audit_prev, computed_at, attempted_at, resolved_at,
	created_at, updated_at`

// outcomesRepo implements OutcomesRepo for SQLite
type outcomesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOutcomesRepo creates a new SQLite outcomes repository
func NewOutcomesRepo(db *sqlx.DB, timeout time.Duration) persistence.OutcomesRepo {
	return &outcomesRepo{db: db, timeout: timeout}
}

// Upsert mirrors the postgres upsert: a partial result never clobbers a
// recorded computed_at, a null audit_prev keeps the stored snapshot, and
// created_at survives updates.
func (r *outcomesRepo) Upsert(ctx context.Context, o *persistence.SignalOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO signal_outcomes (
			signal_id, symbol, horizon_min, window_start, window_end,
			interval_min, candles_expected, candles_observed, coverage_pct,
			window_status, outcome_state, trade_state, exit_reason, exit_price,
			exit_time, ambiguous, hit_stop, hit_target1, hit_target2,
			stop_hit_at, target1_hit_at, target2_hit_at, max_high, min_low,
			last_close, return_pct, risk_multiple, realized_risk, mfe_r, mae_r,
			bars_to_exit, completion_reason, failure_driver, retryable,
			resolve_version, debug_snapshot, audit_prev, computed_at,
			attempted_at, resolved_at, created_at, updated_at
		) VALUES (
			:signal_id, :symbol, :horizon_min, :window_start, :window_end,
			:interval_min, :candles_expected, :candles_observed, :coverage_pct,
			:window_status, :outcome_state, :trade_state, :exit_reason, :exit_price,
			:exit_time, :ambiguous, :hit_stop, :hit_target1, :hit_target2,
			:stop_hit_at, :target1_hit_at, :target2_hit_at, :max_high, :min_low,
			:last_close, :return_pct, :risk_multiple, :realized_risk, :mfe_r, :mae_r,
			:bars_to_exit, :completion_reason, :failure_driver, :retryable,
			:resolve_version, :debug_snapshot, :audit_prev, :computed_at,
			:attempted_at, :resolved_at, :created_at, :updated_at
		)
		ON CONFLICT (signal_id, horizon_min) DO UPDATE SET
			symbol = excluded.symbol,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			interval_min = excluded.interval_min,
			candles_expected = excluded.candles_expected,
			candles_observed = excluded.candles_observed,
			coverage_pct = excluded.coverage_pct,
			window_status = excluded.window_status,
			outcome_state = excluded.outcome_state,
			trade_state = excluded.trade_state,
			exit_reason = excluded.exit_reason,
			exit_price = excluded.exit_price,
			exit_time = excluded.exit_time,
			ambiguous = excluded.ambiguous,
			hit_stop = excluded.hit_stop,
			hit_target1 = excluded.hit_target1,
			hit_target2 = excluded.hit_target2,
			stop_hit_at = excluded.stop_hit_at,
			target1_hit_at = excluded.target1_hit_at,
			target2_hit_at = excluded.target2_hit_at,
			max_high = excluded.max_high,
			min_low = excluded.min_low,
			last_close = excluded.last_close,
			return_pct = excluded.return_pct,
			risk_multiple = excluded.risk_multiple,
			realized_risk = excluded.realized_risk,
			mfe_r = excluded.mfe_r,
			mae_r = excluded.mae_r,
			bars_to_exit = excluded.bars_to_exit,
			completion_reason = excluded.completion_reason,
			failure_driver = excluded.failure_driver,
			retryable = excluded.retryable,
			resolve_version = excluded.resolve_version,
			debug_snapshot = excluded.debug_snapshot,
			audit_prev = COALESCE(excluded.audit_prev, signal_outcomes.audit_prev),
			computed_at = CASE
				WHEN signal_outcomes.computed_at IS NOT NULL AND excluded.window_status = 'partial'
				THEN signal_outcomes.computed_at
				ELSE excluded.computed_at
			END,
			attempted_at = excluded.attempted_at,
			resolved_at = excluded.resolved_at,
			updated_at = excluded.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("failed to upsert outcome: %w", err)
	}
	return nil
}

// Get returns the outcome row for a pair, or nil when absent
func (r *outcomesRepo) Get(ctx context.Context, signalID string, horizonMin int) (*persistence.SignalOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var o persistence.SignalOutcome
	err := r.db.GetContext(ctx, &o,
		`SELECT `+outcomeColumns+` FROM signal_outcomes WHERE signal_id = ? AND horizon_min = ?`,
		signalID, horizonMin)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return &o, nil
}

// ListStaleVersion returns rows recorded under any other resolve version
func (r *outcomesRepo) ListStaleVersion(ctx context.Context, current string, limit int) ([]persistence.SignalOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.SignalOutcome
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+outcomeColumns+` FROM signal_outcomes WHERE resolve_version <> ? ORDER BY id ASC LIMIT ?`,
		current, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale outcomes: %w", err)
	}
	return rows, nil
}

// ResetForRecompute force-resets one stale row so the scheduler picks the
// pair up again, keeping the prior values as an audit snapshot
func (r *outcomesRepo) ResetForRecompute(ctx context.Context, id int64, current string, auditPrev []byte, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE signal_outcomes SET
			window_status = ?,
			outcome_state = ?,
			trade_state = ?,
			exit_reason = '',
			ambiguous = 0,
			retryable = 1,
			completion_reason = ?,
			failure_driver = '',
			resolve_version = ?,
			audit_prev = ?,
			resolved_at = NULL,
			updated_at = ?
		WHERE id = ?`,
		outcome.WindowPartial, outcome.StatePending, outcome.TradePending,
		outcome.ReasonStaleReset, current, auditPrev, now, id)
	if err != nil {
		return fmt.Errorf("failed to reset outcome %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outcome %d not found for reset", id)
	}
	return nil
}

type integrityRule struct {
	name   string
	detail string
	query  string
}

var integrityRules = []integrityRule{
	{
		name:   "completed_without_version",
		detail: "completed state with empty resolve_version",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE outcome_state LIKE 'completed_%' AND resolve_version = '' AND updated_at >= ?`,
	},
	{
		name:   "completed_without_resolved_at",
		detail: "completed state with null resolved_at",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE outcome_state LIKE 'completed_%' AND resolved_at IS NULL AND updated_at >= ?`,
	},
	{
		name:   "resolved_without_completed",
		detail: "resolved_at set on a non-completed state",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE resolved_at IS NOT NULL AND outcome_state NOT LIKE 'completed_%' AND updated_at >= ?`,
	},
	{
		name:   "ambiguous_without_touch_times",
		detail: "ambiguous row missing stop or target touch time",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE ambiguous AND (stop_hit_at IS NULL OR (target1_hit_at IS NULL AND target2_hit_at IS NULL))
			AND updated_at >= ?`,
	},
	{
		name:   "completed_without_reason",
		detail: "completed state with empty completion_reason",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE outcome_state LIKE 'completed_%' AND completion_reason = '' AND updated_at >= ?`,
	},
}

// IntegrityCheck asserts dataset-wide invariants over rows touched since the
// given time. Violations are reported, never repaired.
func (r *outcomesRepo) IntegrityCheck(ctx context.Context, since time.Time) ([]persistence.IntegrityViolation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var violations []persistence.IntegrityViolation
	for _, rule := range integrityRules {
		var keys []struct {
			SignalID   string `db:"signal_id"`
			HorizonMin int    `db:"horizon_min"`
		}
		if err := r.db.SelectContext(ctx, &keys, rule.query, since); err != nil {
			return nil, fmt.Errorf("integrity rule %s failed: %w", rule.name, err)
		}
		for _, k := range keys {
			violations = append(violations, persistence.IntegrityViolation{
				SignalID:   k.SignalID,
				HorizonMin: k.HorizonMin,
				Rule:       rule.name,
				Detail:     rule.detail,
			})
		}
	}
	return violations, nil
}

// DeleteWithSkip records the skip marker and removes the row in one
// transaction so the pair cannot silently regenerate
func (r *outcomesRepo) DeleteWithSkip(ctx context.Context, signalID string, horizonMin int, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outcome_skips (signal_id, horizon_min, reason, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (signal_id, horizon_min) DO NOTHING`,
		signalID, horizonMin, reason)
	if err != nil {
		return fmt.Errorf("failed to insert skip marker: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM signal_outcomes WHERE signal_id = ? AND horizon_min = ?`,
		signalID, horizonMin)
	if err != nil {
		return fmt.Errorf("failed to delete outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete tx: %w", err)
	}
	return nil
}

// CountPending returns the number of unresolved rows
func (r *outcomesRepo) CountPending(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM signal_outcomes WHERE resolved_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outcomes: %w", err)
	}
	return count, nil
}
