package cache

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, func()) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})

	cleanup := func() {
		client.Close()
		s.Close()
	}

	return s, client, cleanup
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRedisCatalogCache_SetAndGet(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisCatalogCache(client, 5*time.Minute, quietLogger())
	cache.Set(ctx, "binance", []string{"ETH/USDT", "BTC/USDT"})

	symbols, found := cache.Get(ctx, "binance")
	assert.True(t, found)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, symbols)

	_, found = cache.Get(ctx, "bybit")
	assert.False(t, found)

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 50.0, stats.HitRate(), 1e-9)
}

func TestRedisCatalogCache_Get_InvalidJSON(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisCatalogCache(client, 5*time.Minute, quietLogger())
	client.Set(ctx, "catalog:bybit", "invalid json", 5*time.Minute)

	symbols, found := cache.Get(ctx, "bybit")
	assert.False(t, found)
	assert.Nil(t, symbols)
	assert.Equal(t, int64(1), cache.GetStats().Misses)
}

func TestRedisCatalogCache_Get_ExpiredEntry(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisCatalogCache(client, 5*time.Minute, quietLogger())
	data, _ := json.Marshal(CatalogCacheEntry{
		Symbols:   []string{"BTC/USDT"},
		CachedAt:  time.Now().Add(-10 * time.Minute),
		ExpiresAt: time.Now().Add(-5 * time.Minute),
	})
	client.Set(ctx, "catalog:binance", string(data), time.Hour)

	_, found := cache.Get(ctx, "binance")
	assert.False(t, found)
}

func TestRedisCatalogCache_TTL(t *testing.T) {
	s, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisCatalogCache(client, time.Minute, quietLogger())
	cache.Set(ctx, "binance", []string{"BTC/USDT"})
	assert.Equal(t, time.Minute, s.TTL("catalog:binance"))

	s.FastForward(2 * time.Minute)
	_, found := cache.Get(ctx, "binance")
	assert.False(t, found)
}

func TestRedisCatalogCache_Clear(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisCatalogCache(client, time.Minute, quietLogger())
	cache.Set(ctx, "binance", []string{"BTC/USDT"})
	cache.Set(ctx, "bybit", []string{"BTC/USDT"})
	client.Set(ctx, "other", "keep", 0)

	require.NoError(t, cache.Clear(ctx))

	keys, err := client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, keys)
	assert.NoError(t, cache.Clear(ctx))
}

func TestMemoryCatalogCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cache := NewMemoryCatalogCache(time.Hour)
	cache.now = func() time.Time { return now }
	cache.Set(ctx, "bybit", []string{"SOL/USDT"})

	symbols, found := cache.Get(ctx, "bybit")
	require.True(t, found)
	symbols[0] = "mutated"

	again, _ := cache.Get(ctx, "bybit")
	assert.Equal(t, []string{"SOL/USDT"}, again)

	now = now.Add(2 * time.Hour)
	_, found = cache.Get(ctx, "bybit")
	assert.False(t, found)
	assert.Equal(t, CatalogCacheStats{Hits: 2, Misses: 1, Sets: 1}, cache.GetStats())
}

func TestRedisNotifiedCache_TryMark(t *testing.T) {
	s, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisNotifiedCache(client, quietLogger())

	assert.True(t, cache.TryMark(ctx, "acc:BTC/USDT_5m", "accumulation", time.Hour))
	assert.False(t, cache.TryMark(ctx, "acc:BTC/USDT_5m", "accumulation", time.Hour))

	entry, err := cache.GetNotified(ctx, "acc:BTC/USDT_5m")
	require.NoError(t, err)
	assert.Equal(t, "accumulation", entry.Kind)

	s.FastForward(61 * time.Minute)
	assert.True(t, cache.TryMark(ctx, "acc:BTC/USDT_5m", "accumulation", time.Hour))

	stats := cache.GetStats()
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestRedisNotifiedCache_ForgetAndSweep(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewRedisNotifiedCache(client, quietLogger())
	cache.TryMark(ctx, "a", "breakout", time.Hour)
	cache.TryMark(ctx, "b", "breakout", time.Hour)

	cache.Forget(ctx, "a")
	assert.True(t, cache.TryMark(ctx, "a", "breakout", time.Hour))

	assert.Equal(t, 0, cache.Sweep(ctx))
	assert.Equal(t, int64(2), cache.GetStats().TotalEntries)

	_, err := cache.GetNotified(ctx, "missing")
	assert.Error(t, err)
}

func TestRedisNotifiedCache_FailsOpen(t *testing.T) {
	s, client, cleanup := setupTestRedis(t)
	defer cleanup()
	s.Close()

	cache := NewRedisNotifiedCache(client, quietLogger())
	assert.True(t, cache.TryMark(context.Background(), "k", "breakout", time.Hour))
	assert.True(t, cache.TryMark(context.Background(), "k", "breakout", time.Hour))
}

func TestMemoryNotifiedCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cache := NewMemoryNotifiedCache()
	cache.now = func() time.Time { return now }

	assert.True(t, cache.TryMark(ctx, "k1", "accumulation", time.Hour))
	assert.False(t, cache.TryMark(ctx, "k1", "accumulation", time.Hour))
	assert.True(t, cache.TryMark(ctx, "k2", "breakout", 3*time.Hour))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, cache.Sweep(ctx))
	assert.True(t, cache.TryMark(ctx, "k1", "accumulation", time.Hour))

	cache.Forget(ctx, "k2")
	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.TotalEntries)
	assert.Equal(t, int64(3), stats.Accepted)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, int64(1), stats.Swept)
	assert.Equal(t, now, stats.LastCleanup)
}
