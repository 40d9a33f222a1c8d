package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/accumulation-radar/internal/cache"
	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/providers"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

func catalog(symbols ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		out[s] = struct{}{}
	}
	return out
}

func newTestRouter(t *testing.T, catalogCache cache.CatalogCache, ps ...*MockMarketDataProvider) *ProviderRouter {
	t.Helper()
	list := make([]providers.MarketDataProvider, len(ps))
	for i, p := range ps {
		list[i] = p
	}
	recovery := NewErrorRecoveryManager(fastPolicy(3), testLogger())
	return NewProviderRouter(list, config.Defaults().Providers, recovery, catalogCache, testLogger())
}

func TestProviderRouter_ResolveByPriority(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	bybit := &MockMarketDataProvider{Name: "bybit"}
	binance.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT", "ETH/USDT"), nil)
	bybit.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT", "HYPE/USDT"), nil)

	r := newTestRouter(t, nil, binance, bybit)
	require.NoError(t, r.LoadCatalogs(context.Background()))

	id, err := r.Resolve("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", id)

	id, err = r.Resolve("HYPE/USDT")
	require.NoError(t, err)
	assert.Equal(t, "bybit", id)

	_, err = r.Resolve("DOGE/USDT")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	routes := r.BuildSymbolMap([]string{"BTC/USDT", "HYPE/USDT", "DOGE/USDT"})
	require.Len(t, routes, 3)
	assert.True(t, routes[0].Primary)
	assert.False(t, routes[1].Primary)
	assert.Equal(t, "", routes[2].Provider)
	assert.Equal(t, map[string]string{"BTC/USDT": "binance", "HYPE/USDT": "bybit"}, r.SymbolMap())
	assert.Equal(t, []string{"binance", "bybit"}, r.Providers())
}

func TestProviderRouter_LoadCatalogsPartialFailure(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	bybit := &MockMarketDataProvider{Name: "bybit"}
	binance.On("LoadMarkets", mock.Anything).Return(nil, utils.NewExchangeError("binance", "exchange_info", 451, "restricted location"))
	bybit.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT"), nil)

	r := newTestRouter(t, nil, binance, bybit)
	require.NoError(t, r.LoadCatalogs(context.Background()))

	id, err := r.Resolve("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "bybit", id)
}

func TestProviderRouter_LoadCatalogsAllFail(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	binance.On("LoadMarkets", mock.Anything).Return(nil, utils.NewExchangeError("binance", "exchange_info", 0, "down"))

	r := newTestRouter(t, nil, binance)
	err := r.LoadCatalogs(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsFatalStartup(err))
}

func TestProviderRouter_LoadCatalogsNotRetried(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	binance.On("LoadMarkets", mock.Anything).Return(nil, utils.NewNetworkError("binance", "exchange_info", errors.New("connection reset")))

	r := newTestRouter(t, nil, binance)
	err := r.LoadCatalogs(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsFatalStartup(err))
	binance.AssertNumberOfCalls(t, "LoadMarkets", 1)
}

func TestProviderRouter_CatalogCache(t *testing.T) {
	cc := cache.NewMemoryCatalogCache(time.Hour)
	cc.Set(context.Background(), "binance", []string{"SOL/USDT"})

	binance := &MockMarketDataProvider{Name: "binance"}
	bybit := &MockMarketDataProvider{Name: "bybit"}
	bybit.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT"), nil).Once()

	r := newTestRouter(t, cc, binance, bybit)
	require.NoError(t, r.LoadCatalogs(context.Background()))

	binance.AssertNotCalled(t, "LoadMarkets", mock.Anything)
	id, err := r.Resolve("SOL/USDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", id)

	symbols, ok := cc.Get(context.Background(), "bybit")
	require.True(t, ok)
	assert.Equal(t, []string{"BTC/USDT"}, symbols)
}

func TestProviderRouter_FetchCandlesRetriesAndNormalizes(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	binance.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT"), nil)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	unordered := []models.Candle{
		{Timestamp: t0.Add(5 * time.Minute), Close: 2},
		{Timestamp: t0, Close: 1},
		{Timestamp: t0.Add(5 * time.Minute), Close: 3},
	}
	binance.On("FetchCandles", mock.Anything, "BTC/USDT", models.Timeframe5m, 50).
		Return(nil, utils.NewNetworkError("binance", "klines", errors.New("timeout"))).Once()
	binance.On("FetchCandles", mock.Anything, "BTC/USDT", models.Timeframe5m, 50).
		Return(unordered, nil).Once()

	r := newTestRouter(t, nil, binance)
	require.NoError(t, r.LoadCatalogs(context.Background()))

	candles, err := r.FetchCandles(context.Background(), "BTC/USDT", models.Timeframe5m, 50)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.0, candles[0].Close)
	assert.Equal(t, 3.0, candles[1].Close, "duplicate timestamp keeps the last occurrence")
	binance.AssertExpectations(t)
}

func TestProviderRouter_FetchCandlesExchangeErrorNoRetry(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	binance.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT"), nil)
	binance.On("FetchCandles", mock.Anything, "BTC/USDT", models.Timeframe1h, 10).
		Return(nil, utils.NewExchangeError("binance", "klines", -1121, "Invalid symbol.")).Once()

	r := newTestRouter(t, nil, binance)
	require.NoError(t, r.LoadCatalogs(context.Background()))

	_, err := r.FetchCandles(context.Background(), "BTC/USDT", models.Timeframe1h, 10)
	require.Error(t, err)
	assert.True(t, utils.IsExchangeError(err))
	binance.AssertNumberOfCalls(t, "FetchCandles", 1)
}

func TestProviderRouter_SemaphoreBoundsConcurrency(t *testing.T) {
	cfg := config.Defaults().Providers
	pc := cfg.Bybit
	pc.MaxConcurrency = 2
	cfg.Bybit = pc

	bybit := &MockMarketDataProvider{Name: "bybit"}
	bybit.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT"), nil)

	var inFlight, peak int32
	bybit.On("FetchCandles", mock.Anything, "BTC/USDT", models.Timeframe5m, 10).
		Run(func(mock.Arguments) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}).
		Return([]models.Candle{}, nil)

	recovery := NewErrorRecoveryManager(fastPolicy(1), testLogger())
	r := NewProviderRouter([]providers.MarketDataProvider{bybit}, cfg, recovery, nil, testLogger())
	require.NoError(t, r.LoadCatalogs(context.Background()))

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_, _ = r.FetchCandles(context.Background(), "BTC/USDT", models.Timeframe5m, 10)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestProviderRouter_HealthCheckAndClose(t *testing.T) {
	binance := &MockMarketDataProvider{Name: "binance"}
	bybit := &MockMarketDataProvider{Name: "bybit"}
	binance.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT", "ETH/USDT"), nil)
	bybit.On("LoadMarkets", mock.Anything).Return(catalog("BTC/USDT"), nil)
	binance.On("Ping", mock.Anything).Return(nil)
	bybit.On("Ping", mock.Anything).Return(utils.NewNetworkError("bybit", "time", errors.New("refused")))
	binance.On("Close").Return()
	bybit.On("Close").Return()

	r := newTestRouter(t, nil, binance, bybit)
	require.NoError(t, r.LoadCatalogs(context.Background()))

	health := r.HealthCheck(context.Background())
	assert.Equal(t, "healthy", health["binance"].Status)
	assert.Equal(t, 2, health["binance"].Symbols)
	assert.Equal(t, "unhealthy", health["bybit"].Status)
	assert.NotEmpty(t, health["bybit"].Error)

	r.Close()
	binance.AssertCalled(t, "Close")
	bybit.AssertCalled(t, "Close")
}
