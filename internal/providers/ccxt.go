package providers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
	"github.com/irfndi/accumulation-radar/pkg/ccxt"
)

// CCXTProvider proxies any exchange supported by the CCXT HTTP sidecar.
type CCXTProvider struct {
	client   ccxt.CCXTClient
	exchange string
	logger   *logrus.Logger
}

// NewCCXTProvider creates the adapter for cfg.ExchangeID.
func NewCCXTProvider(cfg config.ProviderConfig, logger *logrus.Logger) *CCXTProvider {
	return NewCCXTProviderWithClient(ccxt.NewClient(&cfg), cfg.ExchangeID, logger)
}

// NewCCXTProviderWithClient wires an existing client.
func NewCCXTProviderWithClient(client ccxt.CCXTClient, exchange string, logger *logrus.Logger) *CCXTProvider {
	if exchange == "" {
		exchange = "binance"
	}
	return &CCXTProvider{client: client, exchange: strings.ToLower(exchange), logger: logger}
}

func (p *CCXTProvider) ID() string { return CCXT }

func (p *CCXTProvider) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	resp, err := p.client.GetOHLCV(ctx, p.exchange, url.PathEscape(symbol), tf.String(), limit)
	if err != nil {
		return nil, p.classify("ohlcv", err)
	}

	candles := make([]models.Candle, 0, len(resp.OHLCV))
	for _, o := range resp.OHLCV {
		candles = append(candles, models.Candle{
			Timestamp: o.Timestamp.UTC(),
			Open:      o.Open.InexactFloat64(),
			High:      o.High.InexactFloat64(),
			Low:       o.Low.InexactFloat64(),
			Close:     o.Close.InexactFloat64(),
			Volume:    o.Volume.InexactFloat64(),
		})
	}
	return candles, nil
}

// LoadMarkets prefers the detailed market list and falls back to bare symbols.
func (p *CCXTProvider) LoadMarkets(ctx context.Context) (map[string]struct{}, error) {
	resp, err := p.client.GetMarkets(ctx, p.exchange)
	if err != nil {
		return nil, p.classify("markets", err)
	}

	markets := make(map[string]struct{}, len(resp.Symbols)+len(resp.Markets))
	for _, m := range resp.Markets {
		if !m.Active || m.Base == "" || m.Quote == "" {
			continue
		}
		markets[unifiedSymbol(m.Base, m.Quote)] = struct{}{}
	}
	if len(resp.Markets) == 0 {
		for _, s := range resp.Symbols {
			// Swap symbols arrive as BTC/USDT:USDT.
			s, _, _ = strings.Cut(s, ":")
			if strings.Contains(s, "/") {
				markets[strings.ToUpper(s)] = struct{}{}
			}
		}
	}
	return markets, nil
}

func (p *CCXTProvider) Ping(ctx context.Context) error {
	health, err := p.client.HealthCheck(ctx)
	if err != nil {
		return p.classify("health", err)
	}
	if health.Status != "" && health.Status != "healthy" && health.Status != "ok" {
		return utils.NewNetworkError(CCXT, "health", errors.New("service reports status "+health.Status))
	}
	return nil
}

func (p *CCXTProvider) Close() {
	if err := p.client.Close(); err != nil {
		p.logger.WithError(err).Debug("Failed to close CCXT client")
	}
}

func (p *CCXTProvider) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *ccxt.APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return utils.NewExchangeError(CCXT, op, apiErr.StatusCode, apiErr.Message)
	}
	return utils.NewNetworkError(CCXT, op, err)
}
