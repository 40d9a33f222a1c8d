package ccxt

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service,omitempty"`
	Version   string `json:"version,omitempty"`
}

// ErrorResponse represents an error response from the CCXT service
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// OHLCV represents OHLCV (candlestick) data
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OHLCVResponse represents the response from /api/ohlcv/{exchange}/{symbol}
type OHLCVResponse struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	OHLCV     []OHLCV `json:"ohlcv"`
	Timestamp string  `json:"timestamp"`
}

// Market represents a trading pair/market
type Market struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Type   string `json:"type"` // 'spot', 'swap', 'future', ...
	Active bool   `json:"active"`
	Linear bool   `json:"linear,omitempty"`
}

// MarketsResponse represents the response from /api/markets/{exchange}
type MarketsResponse struct {
	Exchange  string   `json:"exchange"`
	Symbols   []string `json:"symbols"`
	Markets   []Market `json:"markets,omitempty"`
	Count     int      `json:"count"`
	Timestamp string   `json:"timestamp"`
}

// APIError is returned for any non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CCXT service error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the failure is worth retrying: rate limits and
// server-side errors.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
