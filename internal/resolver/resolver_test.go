package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/outcomes/internal/market"
	"github.com/tradelab/outcomes/internal/outcome"
	"github.com/tradelab/outcomes/internal/persistence"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeSource serves a canned series and counts provider calls
type fakeSource struct {
	candles []market.Candle
	err     error
	calls   int
}

func (f *fakeSource) Candles(_ context.Context, _ string, _ time.Duration, start time.Time, maxCount int) ([]market.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]market.Candle, 0, maxCount)
	for _, c := range f.candles {
		if c.Ts.Before(start) {
			continue
		}
		out = append(out, c)
		if len(out) == maxCount {
			break
		}
	}
	return out, nil
}

// fakeOutcomes stores rows keyed on (signal, horizon) and mimics the upsert
// rule that partial results never clobber computed_at
type fakeOutcomes struct {
	rows map[string]*persistence.SignalOutcome
}

func newFakeOutcomes() *fakeOutcomes {
	return &fakeOutcomes{rows: make(map[string]*persistence.SignalOutcome)}
}

func key(signalID string, horizonMin int) string {
	return fmt.Sprintf("%s/%d", signalID, horizonMin)
}

func (f *fakeOutcomes) Upsert(_ context.Context, o *persistence.SignalOutcome) error {
	cp := *o
	if prior, ok := f.rows[key(o.SignalID, o.HorizonMin)]; ok {
		cp.ID = prior.ID
		cp.CreatedAt = prior.CreatedAt
		if prior.ComputedAt != nil && cp.WindowStatus == outcome.WindowPartial {
			cp.ComputedAt = prior.ComputedAt
		}
	} else {
		cp.ID = int64(len(f.rows) + 1)
	}
	f.rows[key(o.SignalID, o.HorizonMin)] = &cp
	return nil
}

func (f *fakeOutcomes) Get(_ context.Context, signalID string, horizonMin int) (*persistence.SignalOutcome, error) {
	row, ok := f.rows[key(signalID, horizonMin)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeOutcomes) ListStaleVersion(_ context.Context, current string, limit int) ([]persistence.SignalOutcome, error) {
	var out []persistence.SignalOutcome
	for _, row := range f.rows {
		if row.ResolveVersion != current && len(out) < limit {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeOutcomes) ResetForRecompute(_ context.Context, id int64, current string, auditPrev []byte, now time.Time) error {
	for _, row := range f.rows {
		if row.ID == id {
			row.WindowStatus = outcome.WindowPartial
			row.OutcomeState = outcome.StatePending
			row.TradeState = outcome.TradePending
			row.Retryable = true
			row.CompletionReason = outcome.ReasonStaleReset
			row.ResolveVersion = current
			row.AuditPrev = auditPrev
			row.ResolvedAt = nil
			row.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("outcome %d not found", id)
}

func (f *fakeOutcomes) IntegrityCheck(context.Context, time.Time) ([]persistence.IntegrityViolation, error) {
	return nil, nil
}

func (f *fakeOutcomes) DeleteWithSkip(_ context.Context, signalID string, horizonMin int, _ string) error {
	delete(f.rows, key(signalID, horizonMin))
	return nil
}

func (f *fakeOutcomes) CountPending(context.Context) (int64, error) {
	var n int64
	for _, row := range f.rows {
		if row.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

var entryAt = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func testSignal() persistence.Signal {
	return persistence.Signal{
		ID:         "sig-1",
		Symbol:     "XBTUSD",
		Category:   "ready-to-buy",
		DetectedAt: entryAt,
		EntryAt:    entryAt,
		EntryPrice: 100,
		StopPrice:  95,
		Target1:    105,
		Target2:    110,
		AnchorPrice: 99,
		ATR:         2,
	}
}

func testConfig() Config {
	return Config{
		IntervalMin:    5,
		GraceMin:       10,
		BufferCandles:  3,
		MinCoveragePct: 95,
		MinRiskPct:     0.1,
		Version:        "r3",
		ShortCircuit: ShortCircuitConfig{
			Enabled:        true,
			BaseHorizonMin: 15,
			ATRDriftMult:   2.0,
			AnchorBreakPct: 0.5,
		},
	}
}

// flatSeries builds n calm 5m bars from entryAt that never touch a level
func flatSeries(n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		candles[i] = market.Candle{
			Ts:    entryAt.Add(time.Duration(i) * 5 * time.Minute),
			Open:  100, High: 101, Low: 99, Close: 100.5,
		}
	}
	return candles
}

func TestResolveFutureWindowDefersWithoutFetch(t *testing.T) {
	src := &fakeSource{}
	repo := newFakeOutcomes()
	// Only minutes after entry: the 15m window cannot have closed.
	r := New(repo, src, testConfig(), fixedClock{entryAt.Add(5 * time.Minute)})

	row, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err)

	assert.Equal(t, outcome.WindowPartial, row.WindowStatus)
	assert.Equal(t, outcome.StatePending, row.OutcomeState)
	assert.Equal(t, outcome.ReasonFutureWindow, row.CompletionReason)
	assert.True(t, row.Retryable)
	assert.Nil(t, row.ResolvedAt)
	assert.Equal(t, 0, src.calls, "future windows must not hit the provider")
}

func TestResolveBadLevelsInvalidatesWithoutRetry(t *testing.T) {
	src := &fakeSource{candles: flatSeries(8)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{entryAt.Add(2 * time.Hour)})

	sig := testSignal()
	sig.StopPrice = 106 // stop above entry on a long setup

	row, err := r.Resolve(context.Background(), sig, 15)
	require.NoError(t, err)

	assert.Equal(t, outcome.StateInvalid, row.OutcomeState)
	assert.Equal(t, outcome.TradeInvalidated, row.TradeState)
	assert.Equal(t, outcome.ReasonBadLevels, row.CompletionReason)
	assert.False(t, row.Retryable)
	assert.Equal(t, 0, src.calls, "bad geometry needs no market data")
}

func TestResolveFetchErrorIsRetryable(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("ohlc: %w", market.ErrRateLimited)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{entryAt.Add(2 * time.Hour)})

	row, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err, "fetch failures persist a retryable row, not an error")

	assert.Equal(t, outcome.WindowInvalid, row.WindowStatus)
	assert.Equal(t, outcome.StateInvalid, row.OutcomeState)
	assert.Equal(t, outcome.ReasonFetchError, row.CompletionReason)
	assert.True(t, row.Retryable)
	assert.Nil(t, row.ResolvedAt)
}

func TestResolveCompleteWindowTimesOut(t *testing.T) {
	now := entryAt.Add(2 * time.Hour)
	src := &fakeSource{candles: flatSeries(8)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{now})

	row, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err)

	assert.Equal(t, outcome.WindowComplete, row.WindowStatus)
	assert.Equal(t, outcome.StateTimeout, row.OutcomeState)
	assert.Equal(t, outcome.TradeExpired, row.TradeState)
	assert.Equal(t, outcome.ReasonWindowExpired, row.CompletionReason)
	assert.Equal(t, "r3", row.ResolveVersion)
	assert.False(t, row.Retryable)
	require.NotNil(t, row.ResolvedAt)
	assert.Equal(t, now, *row.ResolvedAt)
	assert.Equal(t, 3, row.CandlesExpected)
	assert.Equal(t, 3, row.CandlesObserved)
	assert.NotEmpty(t, row.DebugSnapshot)
	assert.Equal(t, 1, src.calls)
}

func TestResolvePartialDataStaysPending(t *testing.T) {
	src := &fakeSource{candles: flatSeries(1)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{entryAt.Add(2 * time.Hour)})

	row, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err)

	assert.Equal(t, outcome.WindowPartial, row.WindowStatus)
	assert.Equal(t, outcome.StatePartialData, row.OutcomeState)
	assert.Equal(t, outcome.ReasonNotEnoughBars, row.CompletionReason)
	assert.True(t, row.Retryable)
	assert.Nil(t, row.ResolvedAt)
}

func TestResolveShortCircuitSettlesDeadSetupWithoutFetch(t *testing.T) {
	now := entryAt.Add(6 * time.Hour)
	src := &fakeSource{candles: flatSeries(60)}
	repo := newFakeOutcomes()
	cfg := testConfig()
	r := New(repo, src, cfg, fixedClock{now})

	// Base horizon timed out with the low probing the stop: the setup is
	// dead and the 60m horizon settles without touching the provider.
	base := &persistence.SignalOutcome{
		SignalID:       "sig-1",
		Symbol:         "XBTUSD",
		HorizonMin:     15,
		WindowStatus:   outcome.WindowComplete,
		OutcomeState:   outcome.StateTimeout,
		TradeState:     outcome.TradeExpired,
		ResolveVersion: "r3",
		MinLow:         94.5,
		LastClose:      96,
		ReturnPct:      -4,
	}
	require.NoError(t, repo.Upsert(context.Background(), base))

	row, err := r.Resolve(context.Background(), testSignal(), 60)
	require.NoError(t, err)

	assert.Equal(t, outcome.StateTimeout, row.OutcomeState)
	assert.Equal(t, outcome.TradeExpired, row.TradeState)
	assert.Equal(t, outcome.ReasonExpiredAtShort, row.CompletionReason)
	assert.Equal(t, 96.0, row.LastClose)
	assert.Equal(t, -4.0, row.ReturnPct)
	require.NotNil(t, row.ResolvedAt)
	assert.Equal(t, 0, src.calls, "dead setups settle from the base horizon")
}

func TestResolveShortCircuitOnATRDrift(t *testing.T) {
	now := entryAt.Add(6 * time.Hour)
	src := &fakeSource{candles: flatSeries(60)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{now})

	// No stop touch, but the base close drifted more than two ATRs from
	// entry: the setup has structurally failed.
	base := &persistence.SignalOutcome{
		SignalID:       "sig-1",
		Symbol:         "XBTUSD",
		HorizonMin:     15,
		WindowStatus:   outcome.WindowComplete,
		OutcomeState:   outcome.StateTimeout,
		TradeState:     outcome.TradeExpired,
		ResolveVersion: "r3",
		MinLow:         98,
		LastClose:      105, // |105-100| > 2.0 * ATR(2)
	}
	require.NoError(t, repo.Upsert(context.Background(), base))

	row, err := r.Resolve(context.Background(), testSignal(), 240)
	require.NoError(t, err)

	assert.Equal(t, outcome.ReasonExpiredAtShort, row.CompletionReason)
	assert.Equal(t, 0, src.calls)
}

func TestResolveShortCircuitIgnoresAliveSetup(t *testing.T) {
	now := entryAt.Add(6 * time.Hour)
	src := &fakeSource{candles: flatSeries(60)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{now})

	// Base timed out but price stayed near entry above the anchor: the
	// setup may still work out, so the long horizon is resolved normally.
	base := &persistence.SignalOutcome{
		SignalID:       "sig-1",
		Symbol:         "XBTUSD",
		HorizonMin:     15,
		WindowStatus:   outcome.WindowComplete,
		OutcomeState:   outcome.StateTimeout,
		TradeState:     outcome.TradeExpired,
		ResolveVersion: "r3",
		MinLow:         99,
		LastClose:      100.5,
	}
	require.NoError(t, repo.Upsert(context.Background(), base))

	row, err := r.Resolve(context.Background(), testSignal(), 60)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.NotEqual(t, outcome.ReasonExpiredAtShort, row.CompletionReason)
}

func TestResolveShortCircuitRequiresCurrentVersion(t *testing.T) {
	now := entryAt.Add(6 * time.Hour)
	src := &fakeSource{candles: flatSeries(60)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{now})

	base := &persistence.SignalOutcome{
		SignalID:       "sig-1",
		HorizonMin:     15,
		WindowStatus:   outcome.WindowComplete,
		OutcomeState:   outcome.StateTimeout,
		TradeState:     outcome.TradeExpired,
		ResolveVersion: "r2", // stale
		MinLow:         94.5,
		LastClose:      96,
	}
	require.NoError(t, repo.Upsert(context.Background(), base))

	_, err := r.Resolve(context.Background(), testSignal(), 60)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "stale base rows must not settle long horizons")
}

func TestResolveIsIdempotent(t *testing.T) {
	now := entryAt.Add(2 * time.Hour)
	src := &fakeSource{candles: flatSeries(8)}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{now})

	first, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err)

	assert.Equal(t, first.OutcomeState, second.OutcomeState)
	assert.Equal(t, first.ReturnPct, second.ReturnPct)
	assert.Equal(t, first.WindowStatus, second.WindowStatus)
	assert.Equal(t, first.CompletionReason, second.CompletionReason)
}

func TestResolveHorizonShorterThanIntervalErrors(t *testing.T) {
	r := New(newFakeOutcomes(), &fakeSource{}, testConfig(), fixedClock{entryAt})
	_, err := r.Resolve(context.Background(), testSignal(), 3)
	assert.Error(t, err)
}

func TestResolveRateLimitIsNotFatal(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	repo := newFakeOutcomes()
	r := New(repo, src, testConfig(), fixedClock{entryAt.Add(2 * time.Hour)})

	row, err := r.Resolve(context.Background(), testSignal(), 15)
	require.NoError(t, err)
	assert.True(t, row.Retryable)
}
