package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradelab/outcomes/internal/httpapi"
	"github.com/tradelab/outcomes/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resolution scheduler and HTTP endpoints",
		Long: `Applies the resolve-version gate, then sweeps due (signal, horizon)
pairs on the configured cadence while serving /health and /metrics.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.New(store, buildSource(cfg), schedulerConfig(cfg), resolverConfig(cfg), nil)
	srv := httpapi.New(cfg.HTTP.Listen, sched)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	go func() {
		if err := sched.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	log.Info().Str("driver", cfg.Database.Driver).
		Ints("horizons_min", cfg.Resolve.HorizonsMin).
		Str("version", cfg.Resolve.Version).
		Msg("outcome resolution engine started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
