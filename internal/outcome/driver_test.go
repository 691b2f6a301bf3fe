package outcome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradelab/outcomes/internal/market"
)

// inSession falls inside the 13-21 UTC trading session
var inSession = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func lossCtx() LossContext {
	return LossContext{
		Entry:     100,
		Stop:      95,
		Target1:   110,
		Target2:   120,
		Anchor:    99,
		ATR:       2,
		EntryTime: inSession,
	}
}

// sweepBars contains a liquidity sweep, a volume spike, and an uptrend so no
// window-based check fires
func sweepBars() []market.Candle {
	return []market.Candle{
		{Ts: inSession, Open: 100, High: 103, Low: 99.4, Close: 101, Volume: 50},
		{Ts: inSession.Add(5 * time.Minute), Open: 101, High: 104, Low: 100, Close: 102, Volume: 10},
		{Ts: inSession.Add(10 * time.Minute), Open: 102, High: 105, Low: 101, Close: 103, Volume: 10},
	}
}

func TestAttributeLossDriverOrdering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LossContext)
		want   string
	}{
		{
			name:   "clean setup attributes nothing",
			mutate: func(lc *LossContext) {},
			want:   "",
		},
		{
			name:   "risk reward below minimum",
			mutate: func(lc *LossContext) { lc.Target1 = 106 },
			want:   DriverRiskRewardBelowMin,
		},
		{
			name:   "too far from anchor",
			mutate: func(lc *LossContext) { lc.Anchor = 90 },
			want:   DriverTooFarFromAnchor,
		},
		{
			name: "no liquidity sweep",
			mutate: func(lc *LossContext) {
				for i := range lc.Candles {
					lc.Candles[i].Low = 100.5
				}
			},
			want: DriverNoLiquiditySweep,
		},
		{
			name: "volume spike not met",
			mutate: func(lc *LossContext) {
				for i := range lc.Candles {
					lc.Candles[i].Volume = 10
				}
			},
			want: DriverVolumeSpikeNotMet,
		},
		{
			name:   "outside session",
			mutate: func(lc *LossContext) { lc.EntryTime = inSession.Add(-8 * time.Hour) },
			want:   DriverOutsideSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := lossCtx()
			lc.Candles = sweepBars()
			tt.mutate(&lc)
			assert.Equal(t, tt.want, AttributeLossDriver(lc))
		})
	}
}

func TestAttributeLossDriverSkipsUnknownInputs(t *testing.T) {
	// Zero anchor and ATR disable the checks that depend on them; with no
	// candles only the pure level checks can fire.
	lc := lossCtx()
	lc.Anchor = 0
	lc.ATR = 0
	assert.Equal(t, "", AttributeLossDriver(lc))
}

func TestAttributeLossDriverCounterTrend(t *testing.T) {
	lc := lossCtx()
	lc.Candles = sweepBars()
	// Close the window below its open without disturbing earlier checks.
	lc.Candles[len(lc.Candles)-1].Close = 99
	assert.Equal(t, DriverCounterTrend, AttributeLossDriver(lc))
}
