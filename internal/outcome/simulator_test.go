package outcome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/outcomes/internal/market"
)

var simStart = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// bar builds a 5m candle at offset i from simStart
func bar(i int, open, high, low, close float64) market.Candle {
	return market.Candle{
		Ts:    simStart.Add(time.Duration(i) * 5 * time.Minute),
		Open:  open,
		High:  high,
		Low:   low,
		Close: close,
	}
}

func longParams() SimParams {
	return SimParams{
		Entry:     100,
		Stop:      95,
		Target1:   105,
		Target2:   110,
		EntryTime: simStart,
	}
}

func TestSimulateStopWinsAmbiguousBar(t *testing.T) {
	// One bar touches both the stop and target-1; the intrabar order is
	// unknowable, so the stop wins and the result is flagged ambiguous.
	candles := []market.Candle{
		bar(0, 100, 106, 94, 96),
	}

	res := Simulate(longParams(), candles)

	assert.Equal(t, ExitStop, res.Exit)
	assert.True(t, res.Ambiguous)
	assert.True(t, res.HitStop)
	assert.True(t, res.HitTarget1)
	assert.Equal(t, 95.0, res.ExitPrice)
	assert.Equal(t, -1.0, res.RealizedRisk)
	assert.Equal(t, 1, res.BarsToExit)
	require.NotNil(t, res.StopHitAt)
	require.NotNil(t, res.Target1HitAt)
	assert.Equal(t, candles[0].Ts, *res.StopHitAt)
}

func TestSimulateTarget1ThenTarget2(t *testing.T) {
	// Target-1 is not terminal: a later target-2 touch upgrades the exit
	// while the target-1 touch time is preserved.
	candles := []market.Candle{
		bar(0, 100, 105.5, 99, 104),
		bar(1, 104, 110.2, 103, 109),
	}

	res := Simulate(longParams(), candles)

	assert.Equal(t, ExitTarget2, res.Exit)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, 110.0, res.ExitPrice)
	assert.Equal(t, 2.0, res.RealizedRisk)
	assert.Equal(t, 2, res.BarsToExit)
	assert.True(t, res.HitTarget1)
	assert.True(t, res.HitTarget2)
	require.NotNil(t, res.Target1HitAt)
	assert.Equal(t, candles[0].Ts, *res.Target1HitAt)
	require.NotNil(t, res.Target2HitAt)
	assert.Equal(t, candles[1].Ts, *res.Target2HitAt)
}

func TestSimulateStopAfterTarget1ExitsAtStop(t *testing.T) {
	// A target-1 touch leaves the position open, so a stop touch on a
	// later bar closes it at the stop for a full loss. The earlier touch
	// is still recorded for reporting.
	candles := []market.Candle{
		bar(0, 100, 105.5, 99, 104),
		bar(1, 104, 104.5, 94, 95.5),
	}

	res := Simulate(longParams(), candles)

	assert.Equal(t, ExitStop, res.Exit)
	assert.Equal(t, 95.0, res.ExitPrice)
	assert.Equal(t, candles[1].Ts, res.ExitTime)
	assert.False(t, res.Ambiguous, "touches on different bars are not ambiguous")
	assert.Equal(t, -1.0, res.RealizedRisk)
	assert.True(t, res.HitTarget1)
	require.NotNil(t, res.Target1HitAt)
	assert.Equal(t, candles[0].Ts, *res.Target1HitAt)
}

func TestSimulateExhaustionAfterTarget1FreezesExcursions(t *testing.T) {
	// Target-1 touched on bar 2, then the window runs out without stop or
	// target-2. The trade exits at target-1 with excursion statistics
	// frozen at the target-1 bar, not the later extremes.
	candles := []market.Candle{
		bar(0, 100, 102, 99, 101),
		bar(1, 101, 105.5, 100, 104),
		bar(2, 104, 108, 96, 97), // later extremes must not leak in
		bar(3, 97, 99, 96.5, 98),
	}

	res := Simulate(longParams(), candles)

	assert.Equal(t, ExitTarget1, res.Exit)
	assert.Equal(t, 105.0, res.ExitPrice)
	assert.Equal(t, candles[1].Ts, res.ExitTime)
	assert.Equal(t, 2, res.BarsToExit)
	assert.Equal(t, 105.5, res.MaxHigh)
	assert.Equal(t, 99.0, res.MinLow)
	assert.Equal(t, 104.0, res.LastClose)
	assert.Equal(t, 1.0, res.RealizedRisk)
	assert.InDelta(t, 1.0, res.RiskMultipleExit, 1e-9)
}

func TestSimulateTimeoutAtLastClose(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 102, 98, 101),
		bar(1, 101, 103, 99, 102),
		bar(2, 102, 104, 100, 103),
	}

	res := Simulate(longParams(), candles)

	assert.Equal(t, ExitTimeout, res.Exit)
	assert.Equal(t, 103.0, res.ExitPrice)
	assert.Equal(t, candles[2].Ts, res.ExitTime)
	assert.Equal(t, 3, res.BarsToExit)
	assert.Equal(t, 0.0, res.RealizedRisk)
	assert.InDelta(t, 3.0, res.ReturnPct, 1e-9)
	assert.Equal(t, 104.0, res.MaxHigh)
	assert.Equal(t, 98.0, res.MinLow)
	assert.False(t, res.HitStop)
	assert.False(t, res.HitTarget1)
}

func TestSimulateEmptyWindow(t *testing.T) {
	res := Simulate(longParams(), nil)

	assert.Equal(t, ExitTimeout, res.Exit)
	assert.Equal(t, simStart, res.ExitTime)
	assert.Equal(t, 0.0, res.ExitPrice)
	assert.Equal(t, 0, res.BarsToExit)
	assert.Equal(t, 0.0, res.ReturnPct)
	assert.Nil(t, res.StopHitAt)
}

func TestSimulateStopExitIsExactlyMinusOneR(t *testing.T) {
	// The continuous risk multiple of a stop exit is -1R by construction,
	// with or without round-trip costs.
	for _, costPct := range []float64{0, 0.1, 1.0} {
		p := longParams()
		p.CostPct = costPct
		res := Simulate(p, []market.Candle{bar(0, 100, 101, 94, 95)})

		assert.Equal(t, ExitStop, res.Exit)
		assert.InDelta(t, -1.0, res.RiskMultipleExit, 1e-9, "cost %.1f%%", costPct)
		assert.Negative(t, res.ReturnPct)
	}
}

func TestSimulateCostsReduceRealizedReturn(t *testing.T) {
	candles := []market.Candle{bar(0, 100, 110.5, 99, 110)}

	free := Simulate(longParams(), candles)
	costed := longParams()
	costed.CostPct = 0.25
	paid := Simulate(costed, candles)

	assert.Equal(t, ExitTarget2, free.Exit)
	assert.Equal(t, ExitTarget2, paid.Exit)
	assert.Less(t, paid.ReturnPct, free.ReturnPct)
	assert.Less(t, paid.RiskMultipleExit, free.RiskMultipleExit)
	// The discrete score ignores costs on purpose.
	assert.Equal(t, free.RealizedRisk, paid.RealizedRisk)
}

func TestSimulateDeterministic(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 104, 97, 103),
		bar(1, 103, 105.2, 101, 104),
		bar(2, 104, 106, 94.8, 95),
	}

	first := Simulate(longParams(), candles)
	second := Simulate(longParams(), candles)
	assert.Equal(t, first, second)
}
