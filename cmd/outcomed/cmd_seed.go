package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradelab/outcomes/internal/persistence"
)

func newSeedCmd() *cobra.Command {
	var (
		symbol   string
		category string
		ageMin   int
		entry    float64
		riskPct  float64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a synthetic signal for local testing",
		Long: `Inserts one synthetic long signal with stop and targets derived from
the entry price and risk percentage, entered the given number of minutes
in the past so horizons come due immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now().UTC()
			entryAt := now.Add(-time.Duration(ageMin) * time.Minute)
			risk := entry * riskPct / 100

			sig := persistence.Signal{
				ID:         uuid.NewString(),
				Symbol:     symbol,
				Category:   category,
				DetectedAt: entryAt,
				EntryAt:    entryAt,
				EntryPrice: entry,
				StopPrice:  entry - risk,
				Target1:    entry + risk,
				Target2:    entry + 2*risk,
				ConfigHash: seedConfigHash(symbol, entryAt),
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if err := store.Signals.Insert(ctx, sig); err != nil {
				return fmt.Errorf("failed to seed signal: %w", err)
			}
			log.Info().Str("signal_id", sig.ID).Str("symbol", symbol).
				Time("entry_at", entryAt).Msg("seed signal inserted")
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "XBTUSD", "Signal symbol (Kraken pair)")
	cmd.Flags().StringVar(&category, "category", "ready-to-buy", "Signal category")
	cmd.Flags().IntVar(&ageMin, "age-min", 300, "Minutes in the past to place the entry")
	cmd.Flags().Float64Var(&entry, "entry", 50000, "Entry price")
	cmd.Flags().Float64Var(&riskPct, "risk-pct", 1.0, "Stop distance as a percentage of entry")
	return cmd
}

func seedConfigHash(symbol string, entryAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("seed:%s:%d", symbol, entryAt.Unix())))
	return hex.EncodeToString(sum[:8])
}
