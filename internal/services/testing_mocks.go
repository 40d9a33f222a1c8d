package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/accumulation-radar/internal/models"
)

// MockMarketDataProvider implements providers.MarketDataProvider for testing within the services package
type MockMarketDataProvider struct {
	mock.Mock
	Name string
}

func (m *MockMarketDataProvider) ID() string { return m.Name }

func (m *MockMarketDataProvider) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	args := m.Called(ctx, symbol, tf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candle), args.Error(1)
}

func (m *MockMarketDataProvider) LoadMarkets(ctx context.Context) (map[string]struct{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockMarketDataProvider) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockMarketDataProvider) Close() {
	m.Called()
}

// RecordingSink is a NotificationSink that keeps every message it is sent.
type RecordingSink struct {
	mu       sync.Mutex
	Messages []string
	Fail     bool
}

func (s *RecordingSink) Send(_ context.Context, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return false
	}
	s.Messages = append(s.Messages, text)
	return true
}

// Sent returns a copy of the delivered messages.
func (s *RecordingSink) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Messages))
	copy(out, s.Messages)
	return out
}
