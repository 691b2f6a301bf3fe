package outcome

import "strings"

// WindowStatus classifies data sufficiency and level validity for one
// resolution window
type WindowStatus string

const (
	WindowPartial  WindowStatus = "partial"
	WindowComplete WindowStatus = "complete"
	WindowInvalid  WindowStatus = "invalid"
)

// State is the externally reported outcome classification for a
// (signal, horizon) pair
type State string

const (
	StatePending     State = "pending"
	StatePartialData State = "partial_insufficient_data"
	StateHitTarget1  State = "completed_tp1"
	StateHitTarget2  State = "completed_tp2"
	StateHitStop     State = "completed_sl"
	StateTimeout     State = "completed_timeout"
	StateAmbiguous   State = "completed_ambiguous"
	StateInvalid     State = "invalid"
)

// Complete reports whether the state is a terminal resolved classification
func (s State) Complete() bool {
	return strings.HasPrefix(string(s), "completed_")
}

// TradeState is the trade-lifecycle view used for profitability reporting
type TradeState string

const (
	TradePending     TradeState = "pending"
	TradeTarget1     TradeState = "completed_target1"
	TradeTarget2     TradeState = "completed_target2"
	TradeFailedStop  TradeState = "failed_stop"
	TradeExpired     TradeState = "expired"
	TradeInvalidated TradeState = "invalidated"
)

// ExitReason identifies how a simulated trade left the market
type ExitReason string

const (
	ExitNone    ExitReason = ""
	ExitTarget1 ExitReason = "tp1"
	ExitTarget2 ExitReason = "tp2"
	ExitStop    ExitReason = "sl"
	ExitTimeout ExitReason = "timeout"
)

// Canonical completion / failure reasons persisted on outcome rows
const (
	ReasonNoData         = "no data in window"
	ReasonNotEnoughBars  = "not enough bars"
	ReasonBadAlignment   = "bad alignment"
	ReasonFutureWindow   = "future window"
	ReasonBadLevels      = "bad trade levels"
	ReasonFetchError     = "fetch error"
	ReasonExpiredAtShort = "expired after 15 minutes"
	ReasonStaleReset     = "stale version reset"
	ReasonStopHit        = "stop hit"
	ReasonTarget1Hit     = "target1 hit"
	ReasonTarget2Hit     = "target2 hit"
	ReasonWindowExpired  = "window expired"
)

// StateForExit maps a simulator exit to the reported outcome state
func StateForExit(exit ExitReason, ambiguous bool) State {
	if ambiguous {
		return StateAmbiguous
	}
	switch exit {
	case ExitTarget1:
		return StateHitTarget1
	case ExitTarget2:
		return StateHitTarget2
	case ExitStop:
		return StateHitStop
	case ExitTimeout:
		return StateTimeout
	}
	return StatePending
}

// TradeStateForExit maps a simulator exit to the trade-lifecycle state
func TradeStateForExit(exit ExitReason) TradeState {
	switch exit {
	case ExitTarget1:
		return TradeTarget1
	case ExitTarget2:
		return TradeTarget2
	case ExitStop:
		return TradeFailedStop
	case ExitTimeout:
		return TradeExpired
	}
	return TradePending
}
