package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tradelab/outcomes/internal/config"
	"github.com/tradelab/outcomes/internal/market"
	"github.com/tradelab/outcomes/internal/persistence"
	"github.com/tradelab/outcomes/internal/persistence/postgres"
	"github.com/tradelab/outcomes/internal/persistence/sqlite"
	"github.com/tradelab/outcomes/internal/resolver"
	"github.com/tradelab/outcomes/internal/scheduler"

	goredis "github.com/redis/go-redis/v9"
)

const (
	appName = "outcomed"
	version = "v0.3.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Trading-signal outcome resolution engine",
		Version: version,
		Long: `outcomed resolves detected trading signals into realized outcomes:
for each tracked horizon it frames the post-entry candle window, replays
the trade against stop and targets, and persists one outcome row per
(signal, horizon) pair.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")

	rootCmd.AddCommand(newServeCmd(), newResolveCmd(), newMigrateCmd(), newSeedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration for every subcommand
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore connects the configured backing store and applies migrations
func openStore(ctx context.Context, cfg config.Config) (*persistence.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Database.DSN, cfg.Database.QueryTimeout())
	case "sqlite":
		return sqlite.Open(ctx, cfg.Database.Path, cfg.Database.QueryTimeout())
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildSource assembles the candle source: Kraken behind the process TTL
// cache, optionally behind the shared Redis cache
func buildSource(cfg config.Config) market.Source {
	var src market.Source = market.NewKrakenClient(market.KrakenConfig{
		BaseURL:        cfg.Market.BaseURL,
		RateLimitRPS:   cfg.Market.RatePerSec,
		Burst:          cfg.Market.Burst,
		RequestTimeout: cfg.Market.Timeout(),
	})

	if addr := cfg.Market.Cache.RedisAddr; addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		src = market.NewRedisSource(src, client, cfg.Market.Cache.RedisTTL())
	}
	return market.NewTTLSource(src, cfg.Market.Cache.TTL(), cfg.Market.Cache.MaxEntries)
}

// resolverConfig maps file configuration onto the resolver
func resolverConfig(cfg config.Config) resolver.Config {
	return resolver.Config{
		IntervalMin:    cfg.Resolve.IntervalMin,
		GraceMin:       cfg.Resolve.GraceMin,
		BufferCandles:  cfg.Resolve.BufferCandles,
		MinCoveragePct: cfg.Resolve.MinCoveragePct,
		MinRiskPct:     cfg.Resolve.MinRiskPct,
		FeeSlippagePct: cfg.Resolve.FeeSlippagePct,
		Version:        cfg.Resolve.Version,
		ShortCircuit: resolver.ShortCircuitConfig{
			Enabled:        cfg.Resolve.ShortCircuit.Enabled,
			BaseHorizonMin: cfg.Resolve.ShortCircuit.BaseHorizonMin,
			ATRDriftMult:   cfg.Resolve.ShortCircuit.ATRDriftMult,
			AnchorBreakPct: cfg.Resolve.ShortCircuit.AnchorBreakPct,
		},
	}
}

// schedulerConfig maps file configuration onto the scheduler
func schedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		HorizonsMin:    cfg.Resolve.HorizonsMin,
		Categories:     cfg.Scheduler.Categories,
		TickInterval:   cfg.Scheduler.Tick(),
		Grace:          cfg.Resolve.Grace(),
		RetryCooldown:  cfg.Scheduler.RetryCooldown(),
		Pacing:         cfg.Scheduler.Pacing(),
		BatchSize:      cfg.Scheduler.BatchSize,
		IntegrityEvery: cfg.Scheduler.IntegrityEvery,
	}
}
