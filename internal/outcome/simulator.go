package outcome

import (
	"time"

	"github.com/tradelab/outcomes/internal/market"
)

// SimParams are the trade levels and costs for one simulated long position
type SimParams struct {
	Entry   float64
	Stop    float64
	Target1 float64
	Target2 float64

	EntryTime time.Time

	// CostPct is the combined fee+slippage cost per side, in percent.
	// Entry fills cost more and exits net less, so realized returns
	// reflect a realistic round trip.
	CostPct float64
}

// SimResult describes how a simulated trade played out over a candle window
type SimResult struct {
	Exit      ExitReason
	ExitPrice float64
	ExitTime  time.Time
	Ambiguous bool

	HitStop    bool
	HitTarget1 bool
	HitTarget2 bool

	StopHitAt    *time.Time
	Target1HitAt *time.Time
	Target2HitAt *time.Time

	// Excursion statistics, frozen at the exit candle
	MaxHigh   float64
	MinLow    float64
	LastClose float64

	ReturnPct        float64
	RiskMultipleExit float64 // continuous, from the actual exit price
	RiskMultipleMFE  float64
	RiskMultipleMAE  float64
	RealizedRisk     float64 // discrete: -1 stop, +1 tp1 only, +2 tp2, 0 flat

	BarsToExit int
}

// Simulate replays candles bar-by-bar against the trade levels and returns
// the realized exit. Touch checks are evaluated independently per bar:
// a bar crossing both the stop and a target is ambiguous and the stop wins,
// since the true intrabar order is unknowable from OHLC alone. A target-1
// touch is recorded but does not end the trade; only the stop, target-2, or
// candle exhaustion terminate. With no exit condition across all candles the
// trade times out at the final close.
//
// An empty candle list returns a neutral time-out at entry so callers can
// always rely on a well-formed result shape.
func Simulate(p SimParams, candles []market.Candle) SimResult {
	res := SimResult{
		Exit:     ExitTimeout,
		ExitTime: p.EntryTime,
	}
	if len(candles) == 0 {
		return res
	}

	// frozenAtTarget1 snapshots excursion state at the target-1 bar so a
	// later exhaustion reports statistics as of that exit candle.
	type excursion struct {
		maxHigh, minLow, lastClose float64
		bars                       int
	}
	var frozenAtTarget1 *excursion

	maxHigh := candles[0].High
	minLow := candles[0].Low

	for i, c := range candles {
		if c.High > maxHigh {
			maxHigh = c.High
		}
		if c.Low < minLow {
			minLow = c.Low
		}

		stopTouched := c.Low <= p.Stop
		target2Touched := c.High >= p.Target2
		target1Touched := c.High >= p.Target1
		ts := c.Ts

		if stopTouched && !res.HitStop {
			res.HitStop = true
			res.StopHitAt = &ts
		}
		if target2Touched && !res.HitTarget2 {
			res.HitTarget2 = true
			res.Target2HitAt = &ts
		}
		if target1Touched && !res.HitTarget1 {
			res.HitTarget1 = true
			res.Target1HitAt = &ts
		}

		switch {
		case stopTouched:
			res.Exit = ExitStop
			res.ExitPrice = p.Stop
			res.ExitTime = ts
			res.Ambiguous = target1Touched || target2Touched
			res.BarsToExit = i + 1
			res.MaxHigh, res.MinLow, res.LastClose = maxHigh, minLow, c.Close
			return finish(p, res)

		case target2Touched:
			res.Exit = ExitTarget2
			res.ExitPrice = p.Target2
			res.ExitTime = ts
			res.BarsToExit = i + 1
			res.MaxHigh, res.MinLow, res.LastClose = maxHigh, minLow, c.Close
			return finish(p, res)

		case target1Touched && frozenAtTarget1 == nil:
			frozenAtTarget1 = &excursion{
				maxHigh:   maxHigh,
				minLow:    minLow,
				lastClose: c.Close,
				bars:      i + 1,
			}
		}
	}

	last := candles[len(candles)-1]

	if res.HitTarget1 {
		res.Exit = ExitTarget1
		res.ExitPrice = p.Target1
		res.ExitTime = *res.Target1HitAt
		res.BarsToExit = frozenAtTarget1.bars
		res.MaxHigh = frozenAtTarget1.maxHigh
		res.MinLow = frozenAtTarget1.minLow
		res.LastClose = frozenAtTarget1.lastClose
		return finish(p, res)
	}

	res.Exit = ExitTimeout
	res.ExitPrice = last.Close
	res.ExitTime = last.Ts
	res.BarsToExit = len(candles)
	res.MaxHigh, res.MinLow, res.LastClose = maxHigh, minLow, last.Close
	return finish(p, res)
}

// finish computes return and risk-multiple statistics on the terminal result
func finish(p SimParams, res SimResult) SimResult {
	effEntry := p.Entry * (1 + p.CostPct/100)
	riskPerUnit := effEntry - net(p.Stop, p.CostPct)

	if effEntry > 0 {
		res.ReturnPct = (net(res.ExitPrice, p.CostPct) - effEntry) / effEntry * 100
	}
	if riskPerUnit > 0 {
		res.RiskMultipleExit = (net(res.ExitPrice, p.CostPct) - effEntry) / riskPerUnit
		res.RiskMultipleMFE = (net(res.MaxHigh, p.CostPct) - effEntry) / riskPerUnit
		res.RiskMultipleMAE = (net(res.MinLow, p.CostPct) - effEntry) / riskPerUnit
	}

	switch res.Exit {
	case ExitStop:
		res.RealizedRisk = -1
	case ExitTarget1:
		res.RealizedRisk = 1
	case ExitTarget2:
		res.RealizedRisk = 2
	default:
		res.RealizedRisk = 0
	}
	return res
}

// net discounts a sale price by the per-side cost
func net(price, costPct float64) float64 {
	return price * (1 - costPct/100)
}
