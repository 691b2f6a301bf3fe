package postgres

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

// outcomesRepo implements OutcomesRepo for PostgreSQL
type outcomesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOutcomesRepo creates a new PostgreSQL outcomes repository
func NewOutcomesRepo(db *sqlx.DB, timeout time.Duration) persistence.OutcomesRepo {
	return &outcomesRepo{db: db, timeout: timeout}
}

// Upsert writes the outcome row keyed on (signal_id, horizon_min). A partial
// result never clobbers a previously recorded computed_at, a nil audit_prev
// never erases a stored snapshot, and created_at survives updates.
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
			symbol = EXCLUDED.symbol,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			interval_min = EXCLUDED.interval_min,
			candles_expected = EXCLUDED.candles_expected,
			candles_observed = EXCLUDED.candles_observed,
			coverage_pct = EXCLUDED.coverage_pct,
			window_status = EXCLUDED.window_status,
			outcome_state = EXCLUDED.outcome_state,
			trade_state = EXCLUDED.trade_state,
			exit_reason = EXCLUDED.exit_reason,
			exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time,
			ambiguous = EXCLUDED.ambiguous,
			hit_stop = EXCLUDED.hit_stop,
			hit_target1 = EXCLUDED.hit_target1,
			hit_target2 = EXCLUDED.hit_target2,
			stop_hit_at = EXCLUDED.stop_hit_at,
			target1_hit_at = EXCLUDED.target1_hit_at,
			target2_hit_at = EXCLUDED.target2_hit_at,
			max_high = EXCLUDED.max_high,
			min_low = EXCLUDED.min_low,
			last_close = EXCLUDED.last_close,
			return_pct = EXCLUDED.return_pct,
			risk_multiple = EXCLUDED.risk_multiple,
			realized_risk = EXCLUDED.realized_risk,
			mfe_r = EXCLUDED.mfe_r,
			mae_r = EXCLUDED.mae_r,
			bars_to_exit = EXCLUDED.bars_to_exit,
			completion_reason = EXCLUDED.completion_reason,
			failure_driver = EXCLUDED.failure_driver,
			retryable = EXCLUDED.retryable,
			resolve_version = EXCLUDED.resolve_version,
			debug_snapshot = EXCLUDED.debug_snapshot,
			audit_prev = COALESCE(EXCLUDED.audit_prev, signal_outcomes.audit_prev),
			computed_at = CASE
				WHEN signal_outcomes.computed_at IS NOT NULL AND EXCLUDED.window_status = 'partial'
				THEN signal_outcomes.computed_at
				ELSE EXCLUDED.computed_at
			END,
			attempted_at = EXCLUDED.attempted_at,
			resolved_at = EXCLUDED.resolved_at,
			created_at = signal_outcomes.created_at,
			updated_at = EXCLUDED.updated_at`

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
		`SELECT `+outcomeColumns+` FROM signal_outcomes WHERE signal_id = $1 AND horizon_min = $2`,
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
		`SELECT `+outcomeColumns+` FROM signal_outcomes WHERE resolve_version <> $1 ORDER BY id ASC LIMIT $2`,
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
			window_status = $1,
			outcome_state = $2,
			trade_state = $3,
			exit_reason = '',
			ambiguous = FALSE,
			retryable = TRUE,
			completion_reason = $4,
			failure_driver = '',
			resolve_version = $5,
			audit_prev = $6,
			resolved_at = NULL,
			updated_at = $7
		WHERE id = $8`,
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

// integrityRule pairs a named invariant with the query that finds rows
// breaking it
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
			WHERE outcome_state LIKE 'completed_%' AND resolve_version = '' AND updated_at >= $1`,
	},
	{
		name:   "completed_without_resolved_at",
		detail: "completed state with null resolved_at",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE outcome_state LIKE 'completed_%' AND resolved_at IS NULL AND updated_at >= $1`,
	},
	{
		name:   "resolved_without_completed",
		detail: "resolved_at set on a non-completed state",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE resolved_at IS NOT NULL AND outcome_state NOT LIKE 'completed_%' AND updated_at >= $1`,
	},
	{
		name:   "ambiguous_without_touch_times",
		detail: "ambiguous row missing stop or target touch time",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE ambiguous AND (stop_hit_at IS NULL OR (target1_hit_at IS NULL AND target2_hit_at IS NULL))
			AND updated_at >= $1`,
	},
	{
		name:   "completed_without_reason",
		detail: "completed state with empty completion_reason",
		query: `SELECT signal_id, horizon_min FROM signal_outcomes
			WHERE outcome_state LIKE 'completed_%' AND completion_reason = '' AND updated_at >= $1`,
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
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (signal_id, horizon_min) DO NOTHING`,
		signalID, horizonMin, reason)
	if err != nil {
		return fmt.Errorf("failed to insert skip marker: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM signal_outcomes WHERE signal_id = $1 AND horizon_min = $2`,
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
