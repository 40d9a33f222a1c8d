package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

var cacheT0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// series builds n 5m candles starting at index from, with close = 100+index.
func series(from, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		idx := from + i
		price := 100 + float64(idx)
		out[i] = models.Candle{
			Timestamp: cacheT0.Add(time.Duration(idx) * 5 * time.Minute),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		}
	}
	return out
}

type fetchCall struct {
	limit int
}

type scriptedFetcher struct {
	mu        sync.Mutex
	calls     []fetchCall
	responses []func(limit int) ([]models.Candle, error)
}

func (f *scriptedFetcher) FetchCandles(_ context.Context, _ string, _ models.Timeframe, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{limit: limit})
	if len(f.responses) == 0 {
		return nil, errors.New("unexpected fetch")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next(limit)
}

func returns(c []models.Candle) func(int) ([]models.Candle, error) {
	return func(int) ([]models.Candle, error) { return c, nil }
}

func newTestCandleCache(f CandleFetcher) (*CandleCache, *fakeClock) {
	clock := newFakeClock(cacheT0.Add(5 * time.Hour))
	c := NewCandleCache(f, config.Defaults(), testLogger())
	c.now = clock.Now
	return c, clock
}

func TestCandleCache_FullFetchCachesCompletedCandles(t *testing.T) {
	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){returns(series(0, 50))}}
	c, _ := newTestCandleCache(f)

	candles, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)
	assert.Len(t, candles, 50)

	c.mu.Lock()
	entry := c.entries["BTC/USDT_5m"]
	c.mu.Unlock()
	require.NotNil(t, entry)
	assert.Len(t, entry.Candles, 48, "last two candles are not cached")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.FullFetches)
	assert.Equal(t, 1, stats.CachedPairs)
}

func TestCandleCache_InsufficientData(t *testing.T) {
	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){returns(series(0, 9))}}
	c, _ := newTestCandleCache(f)

	_, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.Error(t, err)
	assert.True(t, utils.IsDataInsufficient(err))
	assert.Equal(t, 0, c.Stats().CachedPairs)
}

func TestCandleCache_IncrementalMerge(t *testing.T) {
	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){
		returns(series(0, 50)),
		returns(series(47, 5)), // 47..51, last cached is 47
	}}
	c, clock := newTestCandleCache(f)

	_, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	candles, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)

	require.Len(t, candles, 50)
	assert.Equal(t, 151.0, candles[len(candles)-1].Close)
	assert.Equal(t, 102.0, candles[0].Close, "trimmed to the newest 50")
	assert.Equal(t, 5, f.calls[1].limit, "incremental limit for 5m")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.IncrementalFetches)
}

func TestCandleCache_VerificationFailureFallsBackToFull(t *testing.T) {
	drifted := series(47, 5)
	drifted[0].Close = 200 // same timestamp as last cached bar, wrong price

	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){
		returns(series(0, 50)),
		returns(drifted),
		returns(series(2, 50)),
	}}
	c, _ := newTestCandleCache(f)

	_, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)

	candles, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err, "verification failure is never surfaced")
	assert.Len(t, candles, 50)
	assert.Len(t, f.calls, 3)
	assert.Equal(t, 50, f.calls[2].limit)
	assert.Equal(t, int64(1), c.Stats().VerificationFailures)
}

func TestCandleCache_IncrementalErrorFallsBackToFull(t *testing.T) {
	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){
		returns(series(0, 50)),
		func(int) ([]models.Candle, error) {
			return nil, utils.NewNetworkError("binance", "klines", errors.New("timeout"))
		},
		returns(series(1, 50)),
	}}
	c, _ := newTestCandleCache(f)

	_, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)
	candles, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)
	assert.Equal(t, 150.0, candles[len(candles)-1].Close)
}

func TestCandleCache_ExpiredEntryRefetchesFully(t *testing.T) {
	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){
		returns(series(0, 50)),
		returns(series(5, 50)),
	}}
	c, clock := newTestCandleCache(f)

	_, err := c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)

	clock.Advance(15 * time.Minute) // 5m TTL is 15 minutes
	_, err = c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, f.calls[1].limit)
	assert.Equal(t, int64(2), c.Stats().Misses)
}

func TestCandleCache_EvictExpired(t *testing.T) {
	f := &scriptedFetcher{responses: []func(int) ([]models.Candle, error){
		returns(series(0, 50)),
		returns(series(0, 50)),
	}}
	c, clock := newTestCandleCache(f)

	_, _ = c.Get(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	_, _ = c.Get(context.Background(), "BTC/USDT", models.Timeframe1h, 50)

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, c.EvictExpired(), "only the 5m entry is past its TTL")
	assert.Equal(t, 1, c.Stats().CachedPairs)
	c.LogStats()
}

func TestMergeCandles_Idempotent(t *testing.T) {
	cached := series(0, 10)
	recent := series(8, 4)

	once := mergeCandles(cached, recent, 50)
	twice := mergeCandles(once, recent, 50)
	assert.Equal(t, once, twice)
	assert.Len(t, once, 12)
}

func TestMergeCandles_RefreshesLastBar(t *testing.T) {
	cached := series(0, 10)
	recent := series(7, 3)
	recent[2].Close = 109.5 // same timestamp as cached last, updated close

	merged := mergeCandles(cached, recent, 50)
	require.Len(t, merged, 10)
	assert.Equal(t, 109.5, merged[9].Close)
}

func TestVerifyAlignment(t *testing.T) {
	cached := series(0, 10)

	assert.NoError(t, verifyAlignment("X", cached, series(9, 3), 0.001))
	assert.NoError(t, verifyAlignment("X", cached, series(12, 3), 0.001), "recent starts after the cache")

	shifted := series(9, 3)
	shifted[0].Close *= 1.0005
	assert.NoError(t, verifyAlignment("X", cached, shifted, 0.001), "within tolerance")

	gapped := append(series(8, 1), series(10, 2)...)
	err := verifyAlignment("X", cached, gapped, 0.001)
	var verr *utils.CacheVerificationError
	assert.ErrorAs(t, err, &verr, "last cached bar missing from recent data")
}
