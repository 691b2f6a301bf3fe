package sqlite

import "github.com/tradelab/outcomes/internal/persistence"

// Migrations is the ordered migration list for the SQLite store
var Migrations = []persistence.Migration{
	{
		Name: "001_create_signals",
		SQL: `
			CREATE TABLE IF NOT EXISTS signals (
				id           TEXT PRIMARY KEY,
				symbol       TEXT NOT NULL,
				category     TEXT NOT NULL,
				detected_at  DATETIME NOT NULL,
				entry_at     DATETIME NOT NULL,
				entry_price  REAL NOT NULL,
				stop_price   REAL NOT NULL,
				target1      REAL NOT NULL,
				target2      REAL NOT NULL,
				anchor_price REAL NOT NULL DEFAULT 0,
				atr          REAL NOT NULL DEFAULT 0,
				config_hash  TEXT NOT NULL,
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (symbol, category, detected_at, config_hash)
			);
			CREATE INDEX IF NOT EXISTS idx_signals_entry_at ON signals (entry_at);
			CREATE INDEX IF NOT EXISTS idx_signals_category ON signals (category);`,
	},
	{
		Name: "002_create_signal_outcomes",
		SQL: `
			CREATE TABLE IF NOT EXISTS signal_outcomes (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				signal_id         TEXT NOT NULL REFERENCES signals (id),
				symbol            TEXT NOT NULL,
				horizon_min       INTEGER NOT NULL,
				window_start      DATETIME NOT NULL,
				window_end        DATETIME NOT NULL,
				interval_min      INTEGER NOT NULL,
				candles_expected  INTEGER NOT NULL DEFAULT 0,
				candles_observed  INTEGER NOT NULL DEFAULT 0,
				coverage_pct      REAL NOT NULL DEFAULT 0,
				window_status     TEXT NOT NULL,
				outcome_state     TEXT NOT NULL,
				trade_state       TEXT NOT NULL,
				exit_reason       TEXT NOT NULL DEFAULT '',
				exit_price        REAL NOT NULL DEFAULT 0,
				exit_time         DATETIME,
				ambiguous         BOOLEAN NOT NULL DEFAULT 0,
				hit_stop          BOOLEAN NOT NULL DEFAULT 0,
				hit_target1       BOOLEAN NOT NULL DEFAULT 0,
				hit_target2       BOOLEAN NOT NULL DEFAULT 0,
				stop_hit_at       DATETIME,
				target1_hit_at    DATETIME,
				target2_hit_at    DATETIME,
				max_high          REAL NOT NULL DEFAULT 0,
				min_low           REAL NOT NULL DEFAULT 0,
				last_close        REAL NOT NULL DEFAULT 0,
				return_pct        REAL NOT NULL DEFAULT 0,
				risk_multiple     REAL NOT NULL DEFAULT 0,
				realized_risk     REAL NOT NULL DEFAULT 0,
				mfe_r             REAL NOT NULL DEFAULT 0,
				mae_r             REAL NOT NULL DEFAULT 0,
				bars_to_exit      INTEGER NOT NULL DEFAULT 0,
				completion_reason TEXT NOT NULL DEFAULT '',
				failure_driver    TEXT NOT NULL DEFAULT '',
				retryable         BOOLEAN NOT NULL DEFAULT 0,
				resolve_version   TEXT NOT NULL DEFAULT '',
				debug_snapshot    BLOB,
				audit_prev        BLOB,
				computed_at       DATETIME,
				attempted_at      DATETIME NOT NULL,
				resolved_at       DATETIME,
				created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (signal_id, horizon_min)
			);`,
	},
}
