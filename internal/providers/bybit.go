package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

const bybitMaxInstrumentPages = 20

var bybitIntervals = map[models.Timeframe]string{
	models.Timeframe1m:  "1",
	models.Timeframe5m:  "5",
	models.Timeframe15m: "15",
	models.Timeframe30m: "30",
	models.Timeframe1h:  "60",
	models.Timeframe4h:  "240",
	models.Timeframe1d:  "D",
}

// Bybit retCodes that indicate a transient condition.
var bybitRetryableCodes = map[int64]bool{
	10000: true, // server timeout
	10006: true, // too many visits
	10016: true, // server error
}

// BybitProvider reads linear perpetual data from the Bybit v5 public API.
type BybitProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewBybitProvider creates the adapter.
func NewBybitProvider(cfg config.ProviderConfig, logger *logrus.Logger) *BybitProvider {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	timeout := cfg.Timeout()
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &BybitProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (p *BybitProvider) ID() string { return Bybit }

// FetchCandles returns candles oldest first. Bybit lists them newest first.
func (p *BybitProvider) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	interval, ok := bybitIntervals[tf]
	if !ok {
		return nil, utils.NewExchangeError(Bybit, "kline", 0, fmt.Sprintf("unsupported timeframe %s", tf))
	}

	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", exchangeSymbol(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	result, err := p.get(ctx, "kline", "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}

	rows := result.Get("list").Array()
	candles := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i].Array()
		if len(row) < 6 {
			return nil, utils.NewExchangeError(Bybit, "kline", 0, fmt.Sprintf("malformed kline row: %s", rows[i].Raw))
		}
		c, err := parseCandle(row[0].Int(), row[1].String(), row[2].String(), row[3].String(), row[4].String(), row[5].String())
		if err != nil {
			return nil, utils.NewExchangeError(Bybit, "kline", 0, err.Error())
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// LoadMarkets pages through linear instruments and keeps those trading.
func (p *BybitProvider) LoadMarkets(ctx context.Context) (map[string]struct{}, error) {
	markets := make(map[string]struct{})
	cursor := ""
	for page := 0; page < bybitMaxInstrumentPages; page++ {
		params := url.Values{}
		params.Set("category", "linear")
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		result, err := p.get(ctx, "instruments_info", "/v5/market/instruments-info", params)
		if err != nil {
			return nil, err
		}

		result.Get("list").ForEach(func(_, inst gjson.Result) bool {
			if inst.Get("status").String() != "Trading" {
				return true
			}
			markets[unifiedSymbol(inst.Get("baseCoin").String(), inst.Get("quoteCoin").String())] = struct{}{}
			return true
		})

		cursor = result.Get("nextPageCursor").String()
		if cursor == "" {
			break
		}
	}
	return markets, nil
}

func (p *BybitProvider) Ping(ctx context.Context) error {
	_, err := p.get(ctx, "time", "/v5/market/time", nil)
	return err
}

func (p *BybitProvider) Close() {
	p.httpClient.CloseIdleConnections()
}

// get performs a public GET and returns the "result" object of a successful
// v5 envelope.
func (p *BybitProvider) get(ctx context.Context, op, path string, params url.Values) (gjson.Result, error) {
	endpoint := p.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return gjson.Result{}, err
		}
		return gjson.Result{}, utils.NewNetworkError(Bybit, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, utils.NewNetworkError(Bybit, op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return gjson.Result{}, utils.NewNetworkError(Bybit, op, fmt.Errorf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, utils.NewExchangeError(Bybit, op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, utils.NewNetworkError(Bybit, op, errors.New("invalid JSON response"))
	}

	envelope := gjson.ParseBytes(body)
	if code := envelope.Get("retCode").Int(); code != 0 {
		msg := envelope.Get("retMsg").String()
		if bybitRetryableCodes[code] {
			return gjson.Result{}, utils.NewNetworkError(Bybit, op, fmt.Errorf("retCode %d: %s", code, msg))
		}
		p.logger.WithFields(logrus.Fields{
			"op":   op,
			"code": code,
		}).Debug("Bybit rejected request")
		return gjson.Result{}, utils.NewExchangeError(Bybit, op, int(code), msg)
	}
	return envelope.Get("result"), nil
}
