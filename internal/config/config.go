// Package config loads the engine configuration from YAML with defaults and
// environment overrides. Durations are declared as integer seconds, minutes,
// or milliseconds in YAML and exposed through accessor methods.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects and parameterizes the backing store
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string; overridden by OUTCOMES_DB_DSN
	DSN string `yaml:"dsn"`
	// Path is the sqlite database file
	Path            string `yaml:"path"`
	QueryTimeoutSec int    `yaml:"query_timeout_sec"`
}

// QueryTimeout returns the per-query timeout
func (d DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutSec) * time.Second
}

// CacheConfig layers candle caching over the provider
type CacheConfig struct {
	TTLSec      int    `yaml:"ttl_sec"`
	MaxEntries  int    `yaml:"max_entries"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisTTLSec int    `yaml:"redis_ttl_sec"`
}

// TTL returns the in-process cache lifetime
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// RedisTTL returns the shared cache lifetime
func (c CacheConfig) RedisTTL() time.Duration { return time.Duration(c.RedisTTLSec) * time.Second }

// MarketConfig parameterizes the candle provider
type MarketConfig struct {
	BaseURL    string      `yaml:"base_url"`
	RatePerSec float64     `yaml:"rate_per_sec"`
	Burst      int         `yaml:"burst"`
	TimeoutSec int         `yaml:"timeout_sec"`
	Cache      CacheConfig `yaml:"cache"`
}

// Timeout returns the provider HTTP timeout
func (m MarketConfig) Timeout() time.Duration { return time.Duration(m.TimeoutSec) * time.Second }

// ShortCircuitConfig controls settling long horizons from the base horizon
type ShortCircuitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BaseHorizonMin int     `yaml:"base_horizon_min"`
	ATRDriftMult   float64 `yaml:"atr_drift_mult"`
	AnchorBreakPct float64 `yaml:"anchor_break_pct"`
}

// ResolveConfig carries resolution semantics shared across horizons
type ResolveConfig struct {
	HorizonsMin    []int              `yaml:"horizons_min"`
	IntervalMin    int                `yaml:"interval_min"`
	GraceMin       int                `yaml:"grace_min"`
	BufferCandles  int                `yaml:"buffer_candles"`
	MinCoveragePct float64            `yaml:"min_coverage_pct"`
	MinRiskPct     float64            `yaml:"min_risk_pct"`
	FeeSlippagePct float64            `yaml:"fee_slippage_pct"`
	Version        string             `yaml:"version"`
	ShortCircuit   ShortCircuitConfig `yaml:"short_circuit"`
}

// Grace returns the late-publication allowance
func (r ResolveConfig) Grace() time.Duration { return time.Duration(r.GraceMin) * time.Minute }

// SchedulerConfig carries the batch sweep parameters
type SchedulerConfig struct {
	TickMin          int      `yaml:"tick_min"`
	RetryCooldownMin int      `yaml:"retry_cooldown_min"`
	BatchSize        int      `yaml:"batch_size"`
	PacingMs         int      `yaml:"pacing_ms"`
	IntegrityEvery   int      `yaml:"integrity_every"`
	Categories       []string `yaml:"categories"`
}

// Tick returns the interval between resolution passes
func (s SchedulerConfig) Tick() time.Duration { return time.Duration(s.TickMin) * time.Minute }

// RetryCooldown returns the backoff before a retryable row is reattempted
func (s SchedulerConfig) RetryCooldown() time.Duration {
	return time.Duration(s.RetryCooldownMin) * time.Minute
}

// Pacing returns the delay between consecutive resolutions in one pass
func (s SchedulerConfig) Pacing() time.Duration {
	return time.Duration(s.PacingMs) * time.Millisecond
}

// HTTPConfig parameterizes the health and metrics listener
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the full engine configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Market    MarketConfig    `yaml:"market"`
	Resolve   ResolveConfig   `yaml:"resolve"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "outcomes.db",
			QueryTimeoutSec: 10,
		},
		Market: MarketConfig{
			BaseURL:    "https://api.kraken.com",
			RatePerSec: 1,
			Burst:      2,
			TimeoutSec: 15,
			Cache: CacheConfig{
				TTLSec:      300,
				MaxEntries:  1024,
				RedisTTLSec: 900,
			},
		},
		Resolve: ResolveConfig{
			HorizonsMin:    []int{15, 60, 240},
			IntervalMin:    5,
			GraceMin:       10,
			BufferCandles:  3,
			MinCoveragePct: 95,
			MinRiskPct:     0.1,
			FeeSlippagePct: 0.1,
			Version:        "r3",
			ShortCircuit: ShortCircuitConfig{
				Enabled:        true,
				BaseHorizonMin: 15,
				ATRDriftMult:   2.0,
				AnchorBreakPct: 0.5,
			},
		},
		Scheduler: SchedulerConfig{
			TickMin:          5,
			RetryCooldownMin: 30,
			BatchSize:        200,
			PacingMs:         250,
			IntegrityEvery:   12,
			Categories:       []string{"ready-to-buy"},
		},
		HTTP: HTTPConfig{Listen: ":8089"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if dsn := os.Getenv("OUTCOMES_DB_DSN"); dsn != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn required for postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Resolve.IntervalMin <= 0 {
		return fmt.Errorf("resolve.interval_min must be positive")
	}
	if len(c.Resolve.HorizonsMin) == 0 {
		return fmt.Errorf("resolve.horizons_min must not be empty")
	}
	for _, h := range c.Resolve.HorizonsMin {
		if h < c.Resolve.IntervalMin || h%c.Resolve.IntervalMin != 0 {
			return fmt.Errorf("horizon %dm must be a positive multiple of interval %dm", h, c.Resolve.IntervalMin)
		}
	}
	if c.Resolve.MinCoveragePct <= 0 || c.Resolve.MinCoveragePct > 100 {
		return fmt.Errorf("resolve.min_coverage_pct must be in (0, 100]")
	}
	if c.Resolve.Version == "" {
		return fmt.Errorf("resolve.version must not be empty")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if len(c.Scheduler.Categories) == 0 {
		return fmt.Errorf("scheduler.categories must not be empty")
	}
	return nil
}
