package postgres

import "github.com/tradelab/outcomes/internal/persistence"

// Migrations is the ordered migration list for the PostgreSQL store
var Migrations = []persistence.Migration{
	{
		Name: "001_create_signals",
		SQL: `
			CREATE TABLE IF NOT EXISTS signals (
				id           TEXT PRIMARY KEY,
				symbol       TEXT NOT NULL,
				category     TEXT NOT NULL,
				detected_at  TIMESTAMPTZ NOT NULL,
				entry_at     TIMESTAMPTZ NOT NULL,
				entry_price  DOUBLE PRECISION NOT NULL,
				stop_price   DOUBLE PRECISION NOT NULL,
				target1      DOUBLE PRECISION NOT NULL,
				target2      DOUBLE PRECISION NOT NULL,
				anchor_price DOUBLE PRECISION NOT NULL DEFAULT 0,
				atr          DOUBLE PRECISION NOT NULL DEFAULT 0,
				config_hash  TEXT NOT NULL,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (symbol, category, detected_at, config_hash)
			);
			CREATE INDEX IF NOT EXISTS idx_signals_entry_at ON signals (entry_at);
			CREATE INDEX IF NOT EXISTS idx_signals_category ON signals (category);`,
	},
	{
		Name: "002_create_signal_outcomes",
		SQL: `
			CREATE TABLE IF NOT EXISTS signal_outcomes (
				id                BIGSERIAL PRIMARY KEY,
				signal_id         TEXT NOT NULL REFERENCES signals (id),
				symbol            TEXT NOT NULL,
				horizon_min       INTEGER NOT NULL,
				window_start      TIMESTAMPTZ NOT NULL,
				window_end        TIMESTAMPTZ NOT NULL,
				interval_min      INTEGER NOT NULL,
				candles_expected  INTEGER NOT NULL DEFAULT 0,
				candles_observed  INTEGER NOT NULL DEFAULT 0,
				coverage_pct      DOUBLE PRECISION NOT NULL DEFAULT 0,
				window_status     TEXT NOT NULL,
				outcome_state     TEXT NOT NULL,
				trade_state       TEXT NOT NULL,
				exit_reason       TEXT NOT NULL DEFAULT '',
				exit_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
				exit_time         TIMESTAMPTZ,
				ambiguous         BOOLEAN NOT NULL DEFAULT FALSE,
				hit_stop          BOOLEAN NOT NULL DEFAULT FALSE,
				hit_target1       BOOLEAN NOT NULL DEFAULT FALSE,
				hit_target2       BOOLEAN NOT NULL DEFAULT FALSE,
				stop_hit_at       TIMESTAMPTZ,
				target1_hit_at    TIMESTAMPTZ,
				target2_hit_at    TIMESTAMPTZ,
				max_high          DOUBLE PRECISION NOT NULL DEFAULT 0,
				min_low           DOUBLE PRECISION NOT NULL DEFAULT 0,
				last_close        DOUBLE PRECISION NOT NULL DEFAULT 0,
				return_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
				risk_multiple     DOUBLE PRECISION NOT NULL DEFAULT 0,
				realized_risk     DOUBLE PRECISION NOT NULL DEFAULT 0,
				mfe_r             DOUBLE PRECISION NOT NULL DEFAULT 0,
				mae_r             DOUBLE PRECISION NOT NULL DEFAULT 0,
				bars_to_exit      INTEGER NOT NULL DEFAULT 0,
				completion_reason TEXT NOT NULL DEFAULT '',
				failure_driver    TEXT NOT NULL DEFAULT '',
				retryable         BOOLEAN NOT NULL DEFAULT FALSE,
				resolve_version   TEXT NOT NULL DEFAULT '',
				debug_snapshot    JSONB,
				audit_prev        JSONB,
				computed_at       TIMESTAMPTZ,
				attempted_at      TIMESTAMPTZ NOT NULL,
				resolved_at       TIMESTAMPTZ,
				created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (signal_id, horizon_min)
			);
			CREATE INDEX IF NOT EXISTS idx_outcomes_state ON signal_outcomes (outcome_state);
			CREATE INDEX IF NOT EXISTS idx_outcomes_updated ON signal_outcomes (updated_at);`,
	},
	{
		Name: "003_create_outcome_skips",
		SQL: `
			CREATE TABLE IF NOT EXISTS outcome_skips (
				signal_id   TEXT NOT NULL,
				horizon_min INTEGER NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (signal_id, horizon_min)
			);`,
	},
}
