package outcome

import (
	"time"

	"github.com/tradelab/outcomes/internal/market"
)

// WindowEval is the result of classifying candle availability for one
// analysis window
type WindowEval struct {
	Status      WindowStatus
	Reason      string
	Candles     []market.Candle
	Observed    int
	CoveragePct float64
}

// EvaluateWindow classifies data sufficiency for the closed window
// [start, end] of evenly spaced bars. It filters candles to the window,
// slices to at most needed oldest-first bars, and checks coverage and
// structural alignment. Pure: it never fetches data.
//
// Zero observed bars yields invalid ("no data in window"); coverage below
// minCoveragePct yields partial ("not enough bars"); any gap or boundary
// mismatch yields partial ("bad alignment") since that signals upstream
// data-quality defects rather than genuine absence.
func EvaluateWindow(start, end time.Time, interval time.Duration, needed int, minCoveragePct float64, candles []market.Candle) WindowEval {
	slice := make([]market.Candle, 0, needed)
	for _, c := range candles {
		if c.Ts.Before(start) || c.Ts.After(end) {
			continue
		}
		slice = append(slice, c)
		if len(slice) == needed {
			break
		}
	}

	eval := WindowEval{
		Candles:  slice,
		Observed: len(slice),
	}
	if needed > 0 {
		eval.CoveragePct = float64(len(slice)) / float64(needed) * 100
	}

	if len(slice) == 0 {
		eval.Status = WindowInvalid
		eval.Reason = ReasonNoData
		return eval
	}

	if eval.CoveragePct < minCoveragePct {
		eval.Status = WindowPartial
		eval.Reason = ReasonNotEnoughBars
		return eval
	}

	if !aligned(slice, start, end, interval) {
		eval.Status = WindowPartial
		eval.Reason = ReasonBadAlignment
		return eval
	}

	eval.Status = WindowComplete
	return eval
}

// aligned verifies the slice spans exactly [start, end] with one bar per
// interval and no gaps
func aligned(candles []market.Candle, start, end time.Time, interval time.Duration) bool {
	if !candles[0].Ts.Equal(start) {
		return false
	}
	if !candles[len(candles)-1].Ts.Equal(end) {
		return false
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Ts.Sub(candles[i-1].Ts) != interval {
			return false
		}
	}
	return true
}
