package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOHLC(t *testing.T) {
	start := time.Unix(1757500800, 0).UTC()
	// Out-of-order rows, one before the window, Kraken's string-encoded
	// decimals mixed with bare numbers, plus the "last" cursor.
	body := []byte(`{
		"error": [],
		"result": {
			"XXBTZUSD": [
				[1757501100, "50100.0", "50200.0", "50000.0", "50150.0", "50120.0", "1.5", 42],
				[1757500800, 50000.0, 50150.0, 49900.0, 50100.0, 50050.0, 2.25, 37],
				[1757500500, "49950.0", "50050.0", "49900.0", "50000.0", "49980.0", "0.8", 12]
			],
			"last": 1757501100
		}
	}`)

	candles, err := parseOHLC(body, start, 10)
	require.NoError(t, err)
	require.Len(t, candles, 2, "bars before start are dropped")

	assert.True(t, candles[0].Ts.Equal(start))
	assert.Equal(t, 50000.0, candles[0].Open)
	assert.Equal(t, 50150.0, candles[0].High)
	assert.Equal(t, 49900.0, candles[0].Low)
	assert.Equal(t, 50100.0, candles[0].Close)
	assert.Equal(t, 2.25, candles[0].Volume)
	assert.True(t, candles[1].Ts.After(candles[0].Ts), "candles sorted ascending")
}

func TestParseOHLCClipsToMaxCount(t *testing.T) {
	start := time.Unix(1757500800, 0).UTC()
	body := []byte(`{
		"error": [],
		"result": {
			"XXBTZUSD": [
				[1757500800, "1", "1", "1", "1", "1", "1", 1],
				[1757501100, "1", "1", "1", "1", "1", "1", 1],
				[1757501400, "1", "1", "1", "1", "1", "1", 1]
			],
			"last": 1757501400
		}
	}`)

	candles, err := parseOHLC(body, start, 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
}

func TestParseOHLCRateLimitError(t *testing.T) {
	body := []byte(`{"error": ["EAPI:Rate limit exceeded"], "result": {}}`)

	_, err := parseOHLC(body, time.Now(), 10)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}

func TestParseOHLCAPIError(t *testing.T) {
	body := []byte(`{"error": ["EQuery:Unknown asset pair"], "result": {}}`)

	_, err := parseOHLC(body, time.Now(), 10)
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
}

func TestParseOHLCEmptyResult(t *testing.T) {
	body := []byte(`{"error": [], "result": {"last": 0}}`)

	candles, err := parseOHLC(body, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, candles)
}
