package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

// Binance error codes that indicate a transient condition.
var binanceRetryableCodes = map[int64]bool{
	-1000: true, // unknown error
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1006: true, // unexpected response
	-1007: true, // timeout
	-1008: true, // server busy
}

// BinanceProvider reads USDT-margined perpetual futures data.
type BinanceProvider struct {
	client *futures.Client
	logger *logrus.Logger
}

// NewBinanceProvider creates the adapter. API keys are optional; only public
// endpoints are used.
func NewBinanceProvider(cfg config.ProviderConfig, logger *logrus.Logger) *BinanceProvider {
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout()
	if timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &BinanceProvider{client: client, logger: logger}
}

func (p *BinanceProvider) ID() string { return Binance }

func (p *BinanceProvider) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	klines, err := p.client.NewKlinesService().
		Symbol(exchangeSymbol(symbol)).
		Interval(tf.String()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, p.classify("klines", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseCandle(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, utils.NewExchangeError(Binance, "klines", 0, err.Error())
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// LoadMarkets returns every trading USDT perpetual.
func (p *BinanceProvider) LoadMarkets(ctx context.Context) (map[string]struct{}, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, p.classify("exchange_info", err)
	}

	markets := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || string(s.ContractType) != "PERPETUAL" {
			continue
		}
		markets[unifiedSymbol(s.BaseAsset, s.QuoteAsset)] = struct{}{}
	}
	return markets, nil
}

func (p *BinanceProvider) Ping(ctx context.Context) error {
	if err := p.client.NewPingService().Do(ctx); err != nil {
		return p.classify("ping", err)
	}
	return nil
}

func (p *BinanceProvider) Close() {
	if p.client.HTTPClient != nil {
		p.client.HTTPClient.CloseIdleConnections()
	}
}

func (p *BinanceProvider) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 0 || binanceRetryableCodes[apiErr.Code] {
			return utils.NewNetworkError(Binance, op, err)
		}
		p.logger.WithFields(logrus.Fields{
			"op":   op,
			"code": apiErr.Code,
		}).Debug("Binance rejected request")
		return utils.NewExchangeError(Binance, op, int(apiErr.Code), apiErr.Message)
	}
	return utils.NewNetworkError(Binance, op, fmt.Errorf("request failed: %w", err))
}
