// Package resolver turns detected signals into persisted outcomes: it frames
// the analysis window for a horizon, fetches candles, classifies data
// sufficiency, replays the trade, and upserts one row per (signal, horizon)
// pair.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradelab/outcomes/internal/market"
	"github.com/tradelab/outcomes/internal/metrics"
	"github.com/tradelab/outcomes/internal/outcome"
	"github.com/tradelab/outcomes/internal/persistence"
)

// ShortCircuitConfig controls settling long horizons from the base horizon
// when the short window already shows the setup is dead
type ShortCircuitConfig struct {
	Enabled        bool
	BaseHorizonMin int
	// ATRDriftMult marks a setup dead when the base-window close drifted
	// more than this many ATRs from entry
	ATRDriftMult float64
	// AnchorBreakPct marks a setup dead when the base-window close broke
	// this far below the anchor price, in percent
	AnchorBreakPct float64
}

// Config carries resolution parameters shared across horizons
type Config struct {
	IntervalMin    int
	GraceMin       int
	BufferCandles  int
	MinCoveragePct float64
	// MinRiskPct rejects trades whose entry-to-stop distance is below this
	// percentage of entry, since risk multiples explode near zero risk
	MinRiskPct     float64
	FeeSlippagePct float64
	ShortCircuit   ShortCircuitConfig
	Version        string
}

// Resolver resolves one (signal, horizon) pair at a time
type Resolver struct {
	outcomes persistence.OutcomesRepo
	source   market.Source
	cfg      Config
	clock    Clock
}

// New creates a Resolver over the given outcomes repository and candle
// source
func New(outcomes persistence.OutcomesRepo, source market.Source, cfg Config, clock Clock) *Resolver {
	if clock == nil {
		clock = RealClock{}
	}
	return &Resolver{outcomes: outcomes, source: source, cfg: cfg, clock: clock}
}

// Resolve computes and persists the outcome for one signal at one horizon.
// It is idempotent: re-running over the same inputs upserts an identical row.
// A nil error means a row was persisted; the row reports its own status.
func (r *Resolver) Resolve(ctx context.Context, sig persistence.Signal, horizonMin int) (*persistence.SignalOutcome, error) {
	interval := time.Duration(r.cfg.IntervalMin) * time.Minute
	needed := horizonMin / r.cfg.IntervalMin
	if needed < 1 {
		return nil, fmt.Errorf("horizon %dm shorter than interval %dm", horizonMin, r.cfg.IntervalMin)
	}

	now := r.clock.Now()
	start := sig.EntryAt.UTC().Truncate(interval)
	end := start.Add(time.Duration(needed-1) * interval)

	row := r.newRow(sig, horizonMin, start, end, needed, now)

	// The final bar must have closed, plus grace for late exchange
	// publication and a buffer so the provider's tail lag cannot truncate
	// the window.
	readyAt := end.Add(interval).
		Add(time.Duration(r.cfg.GraceMin) * time.Minute).
		Add(time.Duration(r.cfg.BufferCandles) * interval)
	if now.Before(readyAt) {
		row.WindowStatus = outcome.WindowPartial
		row.OutcomeState = outcome.StatePending
		row.TradeState = outcome.TradePending
		row.CompletionReason = outcome.ReasonFutureWindow
		row.Retryable = true
		return r.persist(ctx, row)
	}

	if reason, ok := validateLevels(sig, r.cfg.MinRiskPct); !ok {
		row.WindowStatus = outcome.WindowInvalid
		row.OutcomeState = outcome.StateInvalid
		row.TradeState = outcome.TradeInvalidated
		row.CompletionReason = outcome.ReasonBadLevels
		row.FailureDriver = reason
		row.Retryable = false
		return r.persist(ctx, row)
	}

	if settled, done := r.shortCircuit(ctx, sig, horizonMin, row); done {
		metrics.ShortCircuitsTotal.Inc()
		return r.persist(ctx, settled)
	}

	candles, err := r.source.Candles(ctx, sig.Symbol, interval, start, needed+r.cfg.BufferCandles)
	if err != nil {
		metrics.FetchErrorsTotal.Inc()
		lvl := zerolog.WarnLevel
		if market.IsRateLimited(err) {
			lvl = zerolog.InfoLevel
		}
		log.WithLevel(lvl).Err(err).Str("symbol", sig.Symbol).Int("horizon_min", horizonMin).
			Msg("candle fetch failed, outcome marked retryable")

		row.WindowStatus = outcome.WindowInvalid
		row.OutcomeState = outcome.StateInvalid
		row.TradeState = outcome.TradePending
		row.CompletionReason = outcome.ReasonFetchError
		row.Retryable = true
		return r.persist(ctx, row)
	}

	eval := outcome.EvaluateWindow(start, end, interval, needed, r.cfg.MinCoveragePct, candles)
	row.CandlesObserved = eval.Observed
	row.CoveragePct = eval.CoveragePct
	row.WindowStatus = eval.Status

	if eval.Status != outcome.WindowComplete {
		row.CompletionReason = eval.Reason
		switch eval.Status {
		case outcome.WindowInvalid:
			row.OutcomeState = outcome.StateInvalid
			row.TradeState = outcome.TradePending
			row.Retryable = true
		default:
			row.OutcomeState = outcome.StatePartialData
			row.TradeState = outcome.TradePending
			row.Retryable = true
		}
		return r.persist(ctx, row)
	}

	sim := outcome.Simulate(outcome.SimParams{
		Entry:     sig.EntryPrice,
		Stop:      sig.StopPrice,
		Target1:   sig.Target1,
		Target2:   sig.Target2,
		EntryTime: sig.EntryAt,
		CostPct:   r.cfg.FeeSlippagePct,
	}, eval.Candles)

	r.applySim(row, sim)

	if row.TradeState == outcome.TradeFailedStop ||
		(row.TradeState == outcome.TradeExpired && sim.ReturnPct < 0) {
		row.FailureDriver = outcome.AttributeLossDriver(outcome.LossContext{
			Entry:     sig.EntryPrice,
			Stop:      sig.StopPrice,
			Target1:   sig.Target1,
			Target2:   sig.Target2,
			Anchor:    sig.AnchorPrice,
			ATR:       sig.ATR,
			EntryTime: sig.EntryAt,
			Candles:   eval.Candles,
		})
	}

	row.DebugSnapshot = debugSnapshot(sig, eval, sim)
	resolvedAt := now
	row.ResolvedAt = &resolvedAt
	return r.persist(ctx, row)
}

// newRow builds the row skeleton shared by every resolution path
func (r *Resolver) newRow(sig persistence.Signal, horizonMin int, start, end time.Time, needed int, now time.Time) *persistence.SignalOutcome {
	computed := now
	return &persistence.SignalOutcome{
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		HorizonMin:      horizonMin,
		WindowStart:     start,
		WindowEnd:       end,
		IntervalMin:     r.cfg.IntervalMin,
		CandlesExpected: needed,
		WindowStatus:    outcome.WindowPartial,
		OutcomeState:    outcome.StatePending,
		TradeState:      outcome.TradePending,
		ResolveVersion:  r.cfg.Version,
		ComputedAt:      &computed,
		AttemptedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// applySim copies a completed simulation onto the row and maps the states
func (r *Resolver) applySim(row *persistence.SignalOutcome, sim outcome.SimResult) {
	row.OutcomeState = outcome.StateForExit(sim.Exit, sim.Ambiguous)
	row.TradeState = outcome.TradeStateForExit(sim.Exit)

	row.ExitReason = sim.Exit
	row.ExitPrice = sim.ExitPrice
	exitTime := sim.ExitTime
	row.ExitTime = &exitTime
	row.Ambiguous = sim.Ambiguous

	row.HitStop = sim.HitStop
	row.HitTarget1 = sim.HitTarget1
	row.HitTarget2 = sim.HitTarget2
	row.StopHitAt = sim.StopHitAt
	row.Target1HitAt = sim.Target1HitAt
	row.Target2HitAt = sim.Target2HitAt

	row.MaxHigh = sim.MaxHigh
	row.MinLow = sim.MinLow
	row.LastClose = sim.LastClose

	row.ReturnPct = sim.ReturnPct
	row.RiskMultiple = sim.RiskMultipleExit
	row.RealizedRisk = sim.RealizedRisk
	row.MFE = sim.RiskMultipleMFE
	row.MAE = sim.RiskMultipleMAE
	row.BarsToExit = sim.BarsToExit

	row.CompletionReason = completionReason(sim.Exit)
	row.Retryable = false
}

// shortCircuit settles a long horizon from the base horizon's completed
// timeout when the short window already shows the setup is dead: the stop
// region was touched, price drifted too many ATRs from entry, or the anchor
// broke. Returns (row, true) when settled without a fetch.
func (r *Resolver) shortCircuit(ctx context.Context, sig persistence.Signal, horizonMin int, row *persistence.SignalOutcome) (*persistence.SignalOutcome, bool) {
	sc := r.cfg.ShortCircuit
	if !sc.Enabled || horizonMin <= sc.BaseHorizonMin {
		return nil, false
	}

	base, err := r.outcomes.Get(ctx, sig.ID, sc.BaseHorizonMin)
	if err != nil {
		log.Warn().Err(err).Str("signal_id", sig.ID).Msg("short-circuit lookup failed")
		return nil, false
	}
	if base == nil ||
		base.WindowStatus != outcome.WindowComplete ||
		base.OutcomeState != outcome.StateTimeout ||
		base.ResolveVersion != r.cfg.Version {
		return nil, false
	}

	stopTouched := base.HitStop || base.MinLow <= sig.StopPrice
	drifted := sig.ATR > 0 &&
		math.Abs(base.LastClose-sig.EntryPrice) > sc.ATRDriftMult*sig.ATR
	anchorBroken := sig.AnchorPrice > 0 &&
		base.LastClose < sig.AnchorPrice*(1-sc.AnchorBreakPct/100)
	if !stopTouched && !drifted && !anchorBroken {
		return nil, false
	}

	row.WindowStatus = outcome.WindowComplete
	row.OutcomeState = outcome.StateTimeout
	row.TradeState = outcome.TradeExpired
	row.CompletionReason = outcome.ReasonExpiredAtShort
	row.FailureDriver = base.FailureDriver
	row.Retryable = false

	row.CandlesObserved = base.CandlesObserved
	row.CoveragePct = base.CoveragePct
	row.ExitReason = outcome.ExitTimeout
	row.ExitPrice = base.LastClose
	row.ExitTime = base.ExitTime
	row.HitStop = base.HitStop
	row.StopHitAt = base.StopHitAt
	row.MaxHigh = base.MaxHigh
	row.MinLow = base.MinLow
	row.LastClose = base.LastClose
	row.ReturnPct = base.ReturnPct
	row.RiskMultiple = base.RiskMultiple
	row.RealizedRisk = base.RealizedRisk
	row.MFE = base.MFE
	row.MAE = base.MAE
	row.BarsToExit = base.BarsToExit

	resolvedAt := row.AttemptedAt
	row.ResolvedAt = &resolvedAt

	log.Debug().Str("signal_id", sig.ID).Int("horizon_min", horizonMin).
		Msg("settled from base horizon without fetch")
	return row, true
}

// persist upserts the row and records the resolution metric
func (r *Resolver) persist(ctx context.Context, row *persistence.SignalOutcome) (*persistence.SignalOutcome, error) {
	if err := r.outcomes.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist outcome for %s@%dm: %w", row.SignalID, row.HorizonMin, err)
	}
	metrics.ResolutionsTotal.WithLabelValues(string(row.OutcomeState)).Inc()
	return row, nil
}

// validateLevels rejects non-finite or mis-ordered trade geometry for a long
// setup, plus near-zero risk distances
func validateLevels(sig persistence.Signal, minRiskPct float64) (string, bool) {
	for _, v := range []float64{sig.EntryPrice, sig.StopPrice, sig.Target1, sig.Target2} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return "non-finite or non-positive level", false
		}
	}
	if !(sig.StopPrice < sig.EntryPrice && sig.EntryPrice < sig.Target1 && sig.Target1 < sig.Target2) {
		return "levels out of order", false
	}
	if riskPct := (sig.EntryPrice - sig.StopPrice) / sig.EntryPrice * 100; riskPct < minRiskPct {
		return "risk distance below minimum", false
	}
	return "", true
}

func completionReason(exit outcome.ExitReason) string {
	switch exit {
	case outcome.ExitStop:
		return outcome.ReasonStopHit
	case outcome.ExitTarget1:
		return outcome.ReasonTarget1Hit
	case outcome.ExitTarget2:
		return outcome.ReasonTarget2Hit
	default:
		return outcome.ReasonWindowExpired
	}
}

// debugSnapshot serializes the inputs and simulation detail for
// observability; failures degrade to a nil payload.
func debugSnapshot(sig persistence.Signal, eval outcome.WindowEval, sim outcome.SimResult) []byte {
	snap := map[string]interface{}{
		"entry":        sig.EntryPrice,
		"stop":         sig.StopPrice,
		"target1":      sig.Target1,
		"target2":      sig.Target2,
		"coverage_pct": eval.CoveragePct,
		"observed":     eval.Observed,
		"exit":         string(sim.Exit),
		"exit_price":   sim.ExitPrice,
		"ambiguous":    sim.Ambiguous,
		"bars_to_exit": sim.BarsToExit,
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return b
}
