package ccxt

import "context"

// CCXTClient defines the interface for low-level CCXT HTTP operations
type CCXTClient interface {
	// Health and status
	HealthCheck(ctx context.Context) (*HealthResponse, error)

	// Market data operations
	GetOHLCV(ctx context.Context, exchange, symbol, timeframe string, limit int) (*OHLCVResponse, error)
	GetMarkets(ctx context.Context, exchange string) (*MarketsResponse, error)

	// Lifecycle
	Close() error
}

// Ensure our implementations satisfy the interfaces
var _ CCXTClient = (*Client)(nil)
