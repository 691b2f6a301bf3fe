package outcome

import (
	"time"

	"github.com/tradelab/outcomes/internal/market"
)

// Loss driver tags attached to losing trades for failure analysis. These
// replay the detector's threshold checks and are diagnostic only: they never
// affect the resolution outcome.
const (
	DriverRiskRewardBelowMin = "risk/reward below minimum"
	DriverTooFarFromAnchor   = "too far from anchor"
	DriverNoLiquiditySweep   = "no liquidity sweep"
	DriverVolumeSpikeNotMet  = "volume spike not met"
	DriverMomentumOutOfBand  = "momentum out of window"
	DriverCounterTrend       = "counter-trend"
	DriverOutsideSession     = "outside session"
)

// Detector replay thresholds. Product-tuned constants carried over from the
// detection pipeline; see config for the resolution-side knobs.
const (
	driverMinRiskReward   = 1.5
	driverAnchorATRMult   = 2.0
	driverSweepATRFrac    = 0.25
	driverVolumeSpikeMult = 1.5
	driverVolumeSpikeBars = 3
	driverSessionOpenUTC  = 13
	driverSessionCloseUTC = 21
)

// LossContext carries the signal levels and observed window needed to
// attribute a best-effort driver to a losing trade
type LossContext struct {
	Entry   float64
	Stop    float64
	Target1 float64
	Target2 float64

	// Anchor is the detection-time reference price (e.g. VWAP); zero when
	// unknown. ATR is the detection-time average true range; zero when
	// unknown.
	Anchor float64
	ATR    float64

	EntryTime time.Time
	Candles   []market.Candle
}

// AttributeLossDriver tags a losing trade with the first detector check that
// would have rejected it, for human-facing failure analysis. Returns an
// empty string when no check fires.
func AttributeLossDriver(lc LossContext) string {
	if risk := lc.Entry - lc.Stop; risk > 0 {
		if (lc.Target1-lc.Entry)/risk < driverMinRiskReward {
			return DriverRiskRewardBelowMin
		}
	}

	if lc.Anchor > 0 && lc.ATR > 0 {
		if lc.Entry-lc.Anchor > driverAnchorATRMult*lc.ATR {
			return DriverTooFarFromAnchor
		}
	}

	if len(lc.Candles) == 0 {
		return ""
	}

	if lc.ATR > 0 && !sawLiquiditySweep(lc) {
		return DriverNoLiquiditySweep
	}

	if !sawVolumeSpike(lc.Candles) {
		return DriverVolumeSpikeNotMet
	}

	if lc.Candles[0].Close <= lc.Entry {
		return DriverMomentumOutOfBand
	}

	hr := lc.EntryTime.UTC().Hour()
	if hr < driverSessionOpenUTC || hr >= driverSessionCloseUTC {
		return DriverOutsideSession
	}

	if lc.Candles[len(lc.Candles)-1].Close < lc.Candles[0].Open {
		return DriverCounterTrend
	}

	return ""
}

// sawLiquiditySweep reports whether any early bar swept below entry by a
// fraction of ATR before reclaiming it, the pattern the detector requires
func sawLiquiditySweep(lc LossContext) bool {
	sweepLevel := lc.Entry - driverSweepATRFrac*lc.ATR
	for _, c := range lc.Candles {
		if c.Low <= sweepLevel && c.Close > lc.Entry {
			return true
		}
	}
	return false
}

// sawVolumeSpike reports whether any of the first bars carried a volume
// spike relative to the window average
func sawVolumeSpike(candles []market.Candle) bool {
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	avg := total / float64(len(candles))
	if avg == 0 {
		return true // no volume data; do not attribute
	}

	spikeBars := driverVolumeSpikeBars
	if spikeBars > len(candles) {
		spikeBars = len(candles)
	}
	for _, c := range candles[:spikeBars] {
		if c.Volume >= driverVolumeSpikeMult*avg {
			return true
		}
	}
	return false
}
