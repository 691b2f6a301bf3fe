package market

import (
	"context"
	"errors"
	"time"
)

// Candle is a single OHLC bar. Ts is the bar open time; bars are always
// handled oldest-first.
type Candle struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Source supplies ordered OHLC candles for a symbol. Implementations must
// return candles sorted ascending by Ts, starting at or after the requested
// start time, capped at maxCount entries.
type Source interface {
	Candles(ctx context.Context, symbol string, interval time.Duration, start time.Time, maxCount int) ([]Candle, error)
}

// ErrRateLimited is returned when the upstream provider throttles a request.
// Callers treat it as transient and retry after a cooldown.
var ErrRateLimited = errors.New("market: rate limited by provider")

// IsRateLimited reports whether err wraps a provider throttle
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
