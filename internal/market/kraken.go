package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// KrakenConfig holds Kraken candle client configuration
type KrakenConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	RateLimitRPS   float64       `json:"rate_limit_rps"`
	Burst          int           `json:"burst"`
	UserAgent      string        `json:"user_agent"`
}

// KrakenClient fetches OHLC candles from the Kraken public REST API with
// rate limiting and circuit breaking
type KrakenClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// krakenResponse is the standard Kraken API response wrapper
type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// NewKrakenClient creates a new Kraken candle client
func NewKrakenClient(config KrakenConfig) *KrakenClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.kraken.com"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 1.0 // Kraken free tier: 1 RPS
	}
	if config.Burst == 0 {
		config.Burst = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "outcomed/1.0 (candle-resolver)"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kraken-ohlc",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &KrakenClient{
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL:   config.BaseURL,
		userAgent: config.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.Burst),
		breaker:   breaker,
	}
}

// Candles fetches OHLC candles for a symbol starting at the given time.
// Kraken accepts interval in minutes and a unix "since" cursor; results are
// clipped to maxCount oldest-first bars at or after start.
func (c *KrakenClient) Candles(ctx context.Context, symbol string, interval time.Duration, start time.Time, maxCount int) ([]Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	params := url.Values{}
	params.Set("pair", symbol)
	params.Set("interval", strconv.Itoa(int(interval.Minutes())))
	// Kraken's since is exclusive; back off one interval to include the
	// bar that opens exactly at start.
	params.Set("since", strconv.FormatInt(start.Add(-interval).Unix(), 10))

	reqURL := fmt.Sprintf("%s/0/public/OHLC?%s", c.baseURL, params.Encode())

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doGet(ctx, reqURL)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open", ErrRateLimited)
		}
		return nil, err
	}

	return parseOHLC(body.([]byte), start, maxCount)
}

// doGet performs a single GET request and maps throttling responses to
// ErrRateLimited
func (c *KrakenClient) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// parseOHLC decodes the Kraken OHLC payload into ascending candles
func parseOHLC(body []byte, start time.Time, maxCount int) ([]Candle, error) {
	var kr krakenResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return nil, fmt.Errorf("failed to decode OHLC response: %w", err)
	}
	if len(kr.Error) > 0 {
		joined := strings.Join(kr.Error, "; ")
		if strings.Contains(joined, "Rate limit") {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, joined)
		}
		return nil, fmt.Errorf("kraken API error: %s", joined)
	}

	// Result carries the pair key plus a "last" cursor; pick the pair entry.
	var rows [][]json.RawMessage
	for key, raw := range kr.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode OHLC rows for %s: %w", key, err)
		}
		break
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		// [time, open, high, low, close, vwap, volume, count]
		if len(row) < 7 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("failed to decode candle time: %w", err)
		}
		vals := make([]float64, 4)
		for i := 1; i <= 4; i++ {
			f, err := decodeNumeric(row[i])
			if err != nil {
				return nil, fmt.Errorf("failed to decode candle field %d: %w", i, err)
			}
			vals[i-1] = f
		}
		vol, err := decodeNumeric(row[6])
		if err != nil {
			return nil, fmt.Errorf("failed to decode candle volume: %w", err)
		}

		bar := Candle{
			Ts:     time.Unix(ts, 0).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vol,
		}
		if bar.Ts.Before(start) {
			continue
		}
		candles = append(candles, bar)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Ts.Before(candles[j].Ts) })
	if maxCount > 0 && len(candles) > maxCount {
		candles = candles[:maxCount]
	}
	return candles, nil
}

// decodeNumeric accepts Kraken's string-encoded decimals as well as bare
// JSON numbers
func decodeNumeric(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
