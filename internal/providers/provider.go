// Package providers adapts exchange market-data APIs to a single interface.
package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
)

// MarketDataProvider is a source of OHLCV candles and a symbol catalog.
// Implementations return *utils.NetworkError for transient failures and
// *utils.ExchangeError for terminal ones.
type MarketDataProvider interface {
	ID() string
	FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
	LoadMarkets(ctx context.Context) (map[string]struct{}, error)
	Ping(ctx context.Context) error
	Close()
}

// Provider ids accepted in providers.priority.
const (
	Binance = "binance"
	Bybit   = "bybit"
	CCXT    = "ccxt"
)

// New builds the adapter for id from its settings block.
func New(id string, cfg config.ProviderConfig, logger *logrus.Logger) (MarketDataProvider, error) {
	switch strings.ToLower(id) {
	case Binance:
		return NewBinanceProvider(cfg, logger), nil
	case Bybit:
		return NewBybitProvider(cfg, logger), nil
	case CCXT:
		return NewCCXTProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", id)
	}
}

// NewFromConfig builds every provider named in the priority list, in order.
func NewFromConfig(cfg config.ProvidersConfig, logger *logrus.Logger) ([]MarketDataProvider, error) {
	out := make([]MarketDataProvider, 0, len(cfg.Priority))
	for _, id := range cfg.Priority {
		pc, ok := cfg.Provider(id)
		if !ok {
			return nil, fmt.Errorf("unknown market data provider %q", id)
		}
		p, err := New(id, pc, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// exchangeSymbol turns BTC/USDT into BTCUSDT.
func exchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// unifiedSymbol turns a base/quote pair into BTC/USDT form.
func unifiedSymbol(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// parseCandle converts the string fields most exchange APIs return.
func parseCandle(openTimeMs int64, open, high, low, closePrice, volume string) (models.Candle, error) {
	vals := make([]float64, 5)
	for i, s := range []string{open, high, low, closePrice, volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid candle value %q: %w", s, err)
		}
		vals[i] = v
	}
	return models.Candle{
		Timestamp: time.UnixMilli(openTimeMs).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
