package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// cacheKey identifies a candle window request
func cacheKey(symbol string, interval time.Duration, start time.Time, maxCount int) string {
	return fmt.Sprintf("candles:%s:%d:%d:%d", symbol, int(interval.Minutes()), start.Unix(), maxCount)
}

// MemoSource memoizes candle fetches for the lifetime of one batch pass so
// pairs needing overlapping data share a single upstream call. Errors are
// not memoized.
type MemoSource struct {
	src  Source
	mu   sync.Mutex
	memo map[string][]Candle
}

// NewMemoSource wraps src with a per-pass memo cache
func NewMemoSource(src Source) *MemoSource {
	return &MemoSource{
		src:  src,
		memo: make(map[string][]Candle),
	}
}

// Candles returns the memoized window when present, fetching otherwise
func (m *MemoSource) Candles(ctx context.Context, symbol string, interval time.Duration, start time.Time, maxCount int) ([]Candle, error) {
	key := cacheKey(symbol, interval, start, maxCount)

	m.mu.Lock()
	cached, ok := m.memo[key]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	candles, err := m.src.Candles(ctx, symbol, interval, start, maxCount)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.memo[key] = candles
	m.mu.Unlock()
	return candles, nil
}

// ttlEntry is a cached candle window with expiration
type ttlEntry struct {
	candles []Candle
	expires time.Time
}

// TTLSource is a read-through in-process cache with time-based expiration,
// bounded by maxEntries with oldest-expiry eviction
type TTLSource struct {
	src        Source
	ttl        time.Duration
	maxEntries int

	mu      sync.RWMutex
	entries map[string]ttlEntry
}

// NewTTLSource wraps src with an in-process TTL cache
func NewTTLSource(src Source, ttl time.Duration, maxEntries int) *TTLSource {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &TTLSource{
		src:        src,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]ttlEntry),
	}
}

// Candles serves fresh cached windows, fetching and caching on miss
func (t *TTLSource) Candles(ctx context.Context, symbol string, interval time.Duration, start time.Time, maxCount int) ([]Candle, error) {
	key := cacheKey(symbol, interval, start, maxCount)

	t.mu.RLock()
	entry, ok := t.entries[key]
	t.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.candles, nil
	}

	candles, err := t.src.Candles(ctx, symbol, interval, start, maxCount)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if len(t.entries) >= t.maxEntries {
		t.evictOldest()
	}
	t.entries[key] = ttlEntry{candles: candles, expires: time.Now().Add(t.ttl)}
	t.mu.Unlock()
	return candles, nil
}

// evictOldest removes the entry closest to expiry (caller must hold write lock)
func (t *TTLSource) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range t.entries {
		if oldestKey == "" || entry.expires.Before(oldest) {
			oldest = entry.expires
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(t.entries, oldestKey)
	}
}

// RedisSource is a read-through Redis cache shared across processes. Cache
// failures degrade to direct fetches rather than failing the request.
type RedisSource struct {
	src    Source
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSource wraps src with a Redis candle cache
func NewRedisSource(src Source, client *redis.Client, ttl time.Duration) *RedisSource {
	return &RedisSource{src: src, client: client, ttl: ttl}
}

// Candles checks Redis before falling through to the underlying source
func (r *RedisSource) Candles(ctx context.Context, symbol string, interval time.Duration, start time.Time, maxCount int) ([]Candle, error) {
	key := cacheKey(symbol, interval, start, maxCount)

	payload, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var candles []Candle
		if err := json.Unmarshal(payload, &candles); err == nil {
			return candles, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cached candle window")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("key", key).Msg("redis candle cache read failed")
	}

	candles, err := r.src.Candles(ctx, symbol, interval, start, maxCount)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(candles); err == nil {
		if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("redis candle cache write failed")
		}
	}
	return candles, nil
}
