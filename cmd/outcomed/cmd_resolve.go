package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tradelab/outcomes/internal/config"
	"github.com/tradelab/outcomes/internal/market"
	"github.com/tradelab/outcomes/internal/persistence"
	"github.com/tradelab/outcomes/internal/resolver"
	"github.com/tradelab/outcomes/internal/scheduler"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [signal-id]",
		Short: "Run one resolution pass, or resolve a single signal",
		Long: `Without arguments, applies the version gate and runs one full batch
pass over every tracked horizon. With a signal id, resolves just that
signal across all horizons and prints the resulting states.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		return resolveOne(ctx, cfg, store, args[0])
	}

	sched := scheduler.New(store, buildSource(cfg), schedulerConfig(cfg), resolverConfig(cfg), nil)
	if err := sched.ApplyVersionGate(ctx); err != nil {
		return err
	}
	return sched.RunOnce(ctx)
}

// resolveOne resolves a single signal across every tracked horizon,
// shortest-first, and prints the persisted states
func resolveOne(ctx context.Context, cfg config.Config, store *persistence.Store, id string) error {
	sig, err := store.Signals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sig == nil {
		return fmt.Errorf("signal %s not found", id)
	}

	src := market.NewMemoSource(buildSource(cfg))
	res := resolver.New(store.Outcomes, src, resolverConfig(cfg), nil)

	horizons := append([]int(nil), cfg.Resolve.HorizonsMin...)
	sort.Ints(horizons)
	for _, h := range horizons {
		row, err := res.Resolve(ctx, *sig, h)
		if err != nil {
			return err
		}
		fmt.Printf("%s @ %3dm: %-26s trade=%-18s window=%-8s reason=%q\n",
			sig.Symbol, h, row.OutcomeState, row.TradeState, row.WindowStatus, row.CompletionReason)
	}
	return nil
}
