package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/irfndi/accumulation-radar/internal/cache"
	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/providers"
	"github.com/irfndi/accumulation-radar/internal/telemetry"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

// ErrSymbolNotFound is returned when no configured provider lists a symbol.
var ErrSymbolNotFound = errors.New("symbol not available on any provider")

// ProviderHealth is the result of pinging one provider.
type ProviderHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Symbols   int    `json:"symbols"`
	Error     string `json:"error,omitempty"`
}

// SymbolRoute describes where a configured symbol is served from.
type SymbolRoute struct {
	Symbol   string `json:"symbol"`
	Provider string `json:"provider,omitempty"`
	Primary  bool   `json:"primary"`
}

// ProviderRouter picks a provider per symbol by priority, bounds concurrent
// requests per provider and retries transient fetch failures.
type ProviderRouter struct {
	providers    []providers.MarketDataProvider
	byID         map[string]providers.MarketDataProvider
	semaphores   map[string]*semaphore.Weighted
	catalogCache cache.CatalogCache
	recovery     *ErrorRecoveryManager
	logger       *logrus.Logger

	mu        sync.RWMutex
	catalogs  map[string]map[string]struct{}
	symbolMap map[string]string
}

// NewProviderRouter creates a router over ps, which must be in priority
// order. catalogCache may be nil.
func NewProviderRouter(
	ps []providers.MarketDataProvider,
	cfg config.ProvidersConfig,
	recovery *ErrorRecoveryManager,
	catalogCache cache.CatalogCache,
	logger *logrus.Logger,
) *ProviderRouter {
	r := &ProviderRouter{
		providers:    ps,
		byID:         make(map[string]providers.MarketDataProvider, len(ps)),
		semaphores:   make(map[string]*semaphore.Weighted, len(ps)),
		catalogCache: catalogCache,
		recovery:     recovery,
		logger:       logger,
		catalogs:     make(map[string]map[string]struct{}),
		symbolMap:    make(map[string]string),
	}
	for _, p := range ps {
		limit := int64(1)
		if pc, ok := cfg.Provider(p.ID()); ok && pc.MaxConcurrency > 0 {
			limit = int64(pc.MaxConcurrency)
		}
		r.byID[p.ID()] = p
		r.semaphores[p.ID()] = semaphore.NewWeighted(limit)
	}
	return r
}

// LoadCatalogs loads every provider's market list in parallel. A provider
// that fails is left out; the call fails only when none loaded.
func (r *ProviderRouter) LoadCatalogs(ctx context.Context) error {
	start := time.Now()
	results := make([]map[string]struct{}, len(r.providers))

	var g errgroup.Group
	for i, p := range r.providers {
		g.Go(func() error {
			markets, err := r.loadCatalog(ctx, p)
			if err != nil {
				r.logger.WithFields(logrus.Fields{
					"provider": p.ID(),
					"error":    err.Error(),
				}).Error("Failed to load provider catalog")
				return nil
			}
			results[i] = markets
			return nil
		})
	}
	_ = g.Wait()

	loaded := 0
	r.mu.Lock()
	for i, p := range r.providers {
		if results[i] == nil {
			continue
		}
		r.catalogs[p.ID()] = results[i]
		loaded++
		r.logger.WithFields(logrus.Fields{
			"provider": p.ID(),
			"symbols":  len(results[i]),
		}).Info("Provider catalog loaded")
	}
	r.mu.Unlock()

	if loaded == 0 {
		return &utils.FatalStartupError{Reason: "no market data provider could load its catalog"}
	}

	r.logger.WithFields(logrus.Fields{
		"loaded":  loaded,
		"total":   len(r.providers),
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("Provider catalogs ready")
	return nil
}

func (r *ProviderRouter) loadCatalog(ctx context.Context, p providers.MarketDataProvider) (map[string]struct{}, error) {
	if r.catalogCache != nil {
		if symbols, ok := r.catalogCache.Get(ctx, p.ID()); ok {
			markets := make(map[string]struct{}, len(symbols))
			for _, s := range symbols {
				markets[s] = struct{}{}
			}
			r.logger.WithField("provider", p.ID()).Debug("Provider catalog served from cache")
			return markets, nil
		}
	}

	// catalogs load once at startup; a failure here is not retried
	markets, err := p.LoadMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s catalog: %w", p.ID(), err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("provider %s returned an empty catalog", p.ID())
	}

	if r.catalogCache != nil {
		symbols := make([]string, 0, len(markets))
		for s := range markets {
			symbols = append(symbols, s)
		}
		r.catalogCache.Set(ctx, p.ID(), symbols)
	}
	return markets, nil
}

// Resolve returns the first provider in priority order that lists symbol.
// The answer is memoized.
func (r *ProviderRouter) Resolve(symbol string) (string, error) {
	r.mu.RLock()
	id, ok := r.symbolMap[symbol]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.symbolMap[symbol]; ok {
		return id, nil
	}
	for _, p := range r.providers {
		if _, listed := r.catalogs[p.ID()][symbol]; listed {
			r.symbolMap[symbol] = p.ID()
			return p.ID(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", symbol, ErrSymbolNotFound)
}

// BuildSymbolMap resolves symbols up front and logs where each one is served.
func (r *ProviderRouter) BuildSymbolMap(symbols []string) []SymbolRoute {
	primary := ""
	if len(r.providers) > 0 {
		primary = r.providers[0].ID()
	}

	routes := make([]SymbolRoute, 0, len(symbols))
	for _, s := range symbols {
		id, err := r.Resolve(s)
		route := SymbolRoute{Symbol: s, Provider: id, Primary: err == nil && id == primary}
		routes = append(routes, route)

		fields := logrus.Fields{"symbol": s, "provider": id}
		switch {
		case err != nil:
			r.logger.WithField("symbol", s).Warn("Symbol unavailable on all providers")
		case route.Primary:
			r.logger.WithFields(fields).Info("Symbol mapped to primary provider")
		default:
			r.logger.WithFields(fields).Info("Symbol mapped to fallback provider")
		}
	}
	return routes
}

// SymbolMap returns a copy of the resolved symbol to provider mapping.
func (r *ProviderRouter) SymbolMap() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.symbolMap))
	for k, v := range r.symbolMap {
		out[k] = v
	}
	return out
}

// Providers returns provider ids in priority order.
func (r *ProviderRouter) Providers() []string {
	ids := make([]string, len(r.providers))
	for i, p := range r.providers {
		ids[i] = p.ID()
	}
	return ids
}

// FetchCandles fetches from the symbol's provider under its concurrency
// limit, retrying network errors. The result is sorted and deduplicated.
func (r *ProviderRouter) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	id, err := r.Resolve(symbol)
	if err != nil {
		return nil, err
	}
	p := r.byID[id]

	ctx, span := telemetry.StartSpan(ctx, telemetry.GetTracer(telemetry.TracerProvider), "provider.fetch_candles",
		attribute.String("provider", id),
		attribute.String("symbol", symbol),
		attribute.String("timeframe", tf.String()),
		attribute.Int("limit", limit),
	)
	defer span.End()

	var candles []models.Candle
	err = r.recovery.ExecuteWithRetry(ctx, "fetch_candles", logrus.Fields{
		"provider":  id,
		"symbol":    symbol,
		"timeframe": tf.String(),
	}, func(ctx context.Context) error {
		sem := r.semaphores[id]
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)

		c, err := p.FetchCandles(ctx, symbol, tf, limit)
		if err != nil {
			return err
		}
		candles = c
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	candles = models.NormalizeCandles(candles)
	span.SetAttributes(attribute.Int("candles", len(candles)))
	return candles, nil
}

// HealthCheck pings every provider. Results are informational only.
func (r *ProviderRouter) HealthCheck(ctx context.Context) map[string]ProviderHealth {
	out := make(map[string]ProviderHealth, len(r.providers))
	var mu sync.Mutex
	var g errgroup.Group

	for _, p := range r.providers {
		g.Go(func() error {
			start := time.Now()
			err := p.Ping(ctx)
			h := ProviderHealth{
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
				Symbols:   r.catalogSize(p.ID()),
			}
			if err != nil {
				h.Status = "unhealthy"
				h.Error = err.Error()
			}
			mu.Lock()
			out[p.ID()] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(out))
	for id := range out {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h := out[id]
		entry := r.logger.WithFields(logrus.Fields{
			"provider":   id,
			"status":     h.Status,
			"latency_ms": h.LatencyMs,
			"symbols":    h.Symbols,
		})
		if h.Error != "" {
			entry.WithField("error", h.Error).Warn("Provider health check failed")
		} else {
			entry.Info("Provider health check")
		}
	}
	return out
}

func (r *ProviderRouter) catalogSize(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.catalogs[id])
}

// Close releases every provider.
func (r *ProviderRouter) Close() {
	for _, p := range r.providers {
		p.Close()
	}
}
