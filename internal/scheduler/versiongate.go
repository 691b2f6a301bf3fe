package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tradelab/outcomes/internal/metrics"
)

// versionGateBatch bounds how many stale rows one gate iteration loads
const versionGateBatch = 500

// ApplyVersionGate force-resets every row recorded under a different resolve
// version so the normal sweep recomputes it. Each row's prior values are
// kept as a JSON audit snapshot on the row itself. Runs to exhaustion before
// the first pass so mixed-version results never coexist.
func (s *Scheduler) ApplyVersionGate(ctx context.Context) error {
	current := s.resolverCfg.Version
	total := 0
	for {
		stale, err := s.store.Outcomes.ListStaleVersion(ctx, current, versionGateBatch)
		if err != nil {
			return fmt.Errorf("failed to list stale rows: %w", err)
		}
		if len(stale) == 0 {
			break
		}

		for _, row := range stale {
			prev, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("failed to snapshot outcome %d: %w", row.ID, err)
			}
			if err := s.store.Outcomes.ResetForRecompute(ctx, row.ID, current, prev, s.clock.Now()); err != nil {
				return err
			}
			metrics.StaleResets.Inc()
			total++
		}
	}

	if total > 0 {
		log.Info().Int("reset", total).Str("version", current).
			Msg("stale outcomes reset for recompute")
	}
	return nil
}
