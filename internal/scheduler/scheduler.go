// Package scheduler drives batch resolution: it sweeps due (signal, horizon)
// pairs on a fixed cadence, paces provider calls, runs the periodic
// integrity check, and refuses overlapping passes.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradelab/outcomes/internal/market"
	"github.com/tradelab/outcomes/internal/metrics"
	"github.com/tradelab/outcomes/internal/persistence"
	"github.com/tradelab/outcomes/internal/resolver"
)

// Config carries the batch sweep parameters
type Config struct {
	// HorizonsMin lists the tracked horizons; passes always resolve them
	// shortest-first so short-circuiting can read fresh base rows
	HorizonsMin []int
	Categories  []string

	TickInterval  time.Duration
	Grace         time.Duration
	RetryCooldown time.Duration
	Pacing        time.Duration
	BatchSize     int

	// IntegrityEvery runs the invariant sweep once per this many passes;
	// zero disables it
	IntegrityEvery int
}

// Health is a point-in-time snapshot for the health endpoint
type Health struct {
	Running          bool       `json:"running"`
	PassCount        int64      `json:"pass_count"`
	LastPassAt       *time.Time `json:"last_pass_at,omitempty"`
	LastPassDuration string     `json:"last_pass_duration,omitempty"`
	LastPassResolved int        `json:"last_pass_resolved"`
	LastPassErrors   int        `json:"last_pass_errors"`
	PendingPairs     int64      `json:"pending_pairs"`
}

// Scheduler owns the resolution loop over one store and candle source
type Scheduler struct {
	store       *persistence.Store
	source      market.Source
	cfg         Config
	resolverCfg resolver.Config
	clock       resolver.Clock

	running atomic.Bool

	mu     sync.RWMutex
	health Health
}

// New creates a Scheduler. Horizons are sorted ascending once so every pass
// resolves the base horizon before the horizons that may settle from it.
func New(store *persistence.Store, source market.Source, cfg Config, resolverCfg resolver.Config, clock resolver.Clock) *Scheduler {
	if clock == nil {
		clock = resolver.RealClock{}
	}
	horizons := append([]int(nil), cfg.HorizonsMin...)
	sort.Ints(horizons)
	cfg.HorizonsMin = horizons
	return &Scheduler{
		store:       store,
		source:      source,
		cfg:         cfg,
		resolverCfg: resolverCfg,
		clock:       clock,
	}
}

// Start applies the version gate, runs an immediate pass, then sweeps on the
// tick interval until the context is canceled
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.ApplyVersionGate(ctx); err != nil {
		return fmt.Errorf("failed to apply version gate: %w", err)
	}

	if err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial resolution pass failed")
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("resolution pass failed")
			}
		}
	}
}

// RunOnce executes one full pass over all horizons. Concurrent passes are
// refused: a pass still in flight when the next tick fires returns an error
// instead of doubling provider load.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("resolution pass already running")
	}
	defer s.running.Store(false)

	started := s.clock.Now()
	timer := time.Now()

	// Per-pass memoization: the same window requested for several signals
	// on one symbol hits the provider once.
	src := market.NewMemoSource(s.source)
	res := resolver.New(s.store.Outcomes, src, s.resolverCfg, s.clock)

	resolved, errs := 0, 0
	for _, horizon := range s.cfg.HorizonsMin {
		n, e, err := s.runHorizon(ctx, res, horizon)
		resolved += n
		errs += e
		if err != nil {
			s.finishPass(started, time.Since(timer), resolved, errs)
			return err
		}
	}

	elapsed := time.Since(timer)
	metrics.BatchDuration.Observe(elapsed.Seconds())

	if pending, err := s.store.Outcomes.CountPending(ctx); err == nil {
		metrics.PendingPairs.Set(float64(pending))
		s.mu.Lock()
		s.health.PendingPairs = pending
		s.mu.Unlock()
	}

	s.finishPass(started, elapsed, resolved, errs)

	if s.cfg.IntegrityEvery > 0 {
		s.mu.RLock()
		passes := s.health.PassCount
		s.mu.RUnlock()
		if passes%int64(s.cfg.IntegrityEvery) == 0 {
			s.runIntegrityCheck(ctx, started)
		}
	}

	log.Info().Int("resolved", resolved).Int("errors", errs).
		Dur("elapsed", elapsed).Msg("resolution pass complete")
	return nil
}

// runHorizon resolves due candidates for one horizon, pacing between
// signals. A hard error (context cancellation) aborts the pass; per-signal
// failures are counted and skipped.
func (s *Scheduler) runHorizon(ctx context.Context, res *resolver.Resolver, horizonMin int) (resolved, errs int, err error) {
	candidates, err := s.store.Signals.DueCandidates(ctx, persistence.CandidateQuery{
		HorizonMin:    horizonMin,
		Grace:         s.cfg.Grace,
		Categories:    s.cfg.Categories,
		RetryCooldown: s.cfg.RetryCooldown,
		Limit:         s.cfg.BatchSize,
		Now:           s.clock.Now(),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select candidates for %dm: %w", horizonMin, err)
	}

	for i, sig := range candidates {
		if i > 0 && s.cfg.Pacing > 0 {
			select {
			case <-ctx.Done():
				return resolved, errs, ctx.Err()
			case <-time.After(s.cfg.Pacing):
			}
		}

		if _, err := res.Resolve(ctx, sig, horizonMin); err != nil {
			if ctx.Err() != nil {
				return resolved, errs, ctx.Err()
			}
			errs++
			log.Error().Err(err).Str("signal_id", sig.ID).
				Int("horizon_min", horizonMin).Msg("resolution failed")
			continue
		}
		resolved++
	}
	return resolved, errs, nil
}

// runIntegrityCheck sweeps invariants over rows touched in the last day and
// reports violations without repairing them
func (s *Scheduler) runIntegrityCheck(ctx context.Context, now time.Time) {
	since := now.Add(-24 * time.Hour)
	violations, err := s.store.Outcomes.IntegrityCheck(ctx, since)
	if err != nil {
		log.Error().Err(err).Msg("integrity check failed")
		return
	}
	for _, v := range violations {
		metrics.IntegrityViolationsTotal.WithLabelValues(v.Rule).Inc()
		log.Warn().Str("signal_id", v.SignalID).Int("horizon_min", v.HorizonMin).
			Str("rule", v.Rule).Str("detail", v.Detail).Msg("integrity violation")
	}
	if len(violations) == 0 {
		log.Debug().Msg("integrity check clean")
	}
}

func (s *Scheduler) finishPass(started time.Time, elapsed time.Duration, resolved, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.PassCount++
	s.health.LastPassAt = &started
	s.health.LastPassDuration = elapsed.Round(time.Millisecond).String()
	s.health.LastPassResolved = resolved
	s.health.LastPassErrors = errs
}

// Health returns a snapshot for the health endpoint
func (s *Scheduler) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.health
	h.Running = s.running.Load()
	return h
}
