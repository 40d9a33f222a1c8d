package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

// cachedTailExclusion is how many trailing candles are left out when
// caching, since the newest bars may still be forming.
const cachedTailExclusion = 2

// CandleFetcher fetches candles from the network.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
}

// CacheEntry holds the completed candles of one symbol and timeframe.
type CacheEntry struct {
	Key       string
	Timeframe models.Timeframe
	Candles   []models.Candle
	FetchedAt time.Time
}

// CandleCacheStats holds statistics for the candle cache
type CandleCacheStats struct {
	Hits                 int64   `json:"hits"`
	Misses               int64   `json:"misses"`
	FullFetches          int64   `json:"full_fetches"`
	IncrementalFetches   int64   `json:"incremental_fetches"`
	VerificationFailures int64   `json:"verification_failures"`
	Evictions            int64   `json:"evictions"`
	CachedPairs          int     `json:"cached_pairs"`
	HitRate              float64 `json:"hit_rate"`
}

// CandleCache keeps recent candle history per symbol and timeframe and
// refreshes it with small incremental fetches while the entry is fresh.
type CandleCache struct {
	fetcher CandleFetcher
	cfg     *config.Config
	logger  *logrus.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*CacheEntry
	stats   CandleCacheStats
}

// NewCandleCache creates an empty cache in front of fetcher.
func NewCandleCache(fetcher CandleFetcher, cfg *config.Config, logger *logrus.Logger) *CandleCache {
	return &CandleCache{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*CacheEntry),
	}
}

func cacheKey(symbol string, tf models.Timeframe) string {
	return symbol + "_" + tf.String()
}

// Get returns up to limit candles for symbol, oldest first.
func (c *CandleCache) Get(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	key := cacheKey(symbol, tf)

	if cached, ok := c.valid(key, tf); ok {
		c.bump(func(s *CandleCacheStats) { s.Hits++ })
		candles, err := c.incremental(ctx, symbol, tf, key, cached, limit)
		if err == nil {
			return candles, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WithFields(logrus.Fields{
			"symbol":    symbol,
			"timeframe": tf.String(),
			"error":     err.Error(),
		}).Warn("Incremental fetch failed, falling back to full fetch")
	} else {
		c.bump(func(s *CandleCacheStats) { s.Misses++ })
	}

	return c.full(ctx, symbol, tf, key, limit)
}

// valid returns a copy of the entry's candles if it is still within its TTL.
func (c *CandleCache) valid(key string, tf models.Timeframe) ([]models.Candle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || len(e.Candles) == 0 {
		return nil, false
	}
	if c.now().Sub(e.FetchedAt) >= c.cfg.CacheTTL(tf) {
		return nil, false
	}
	out := make([]models.Candle, len(e.Candles))
	copy(out, e.Candles)
	return out, true
}

func (c *CandleCache) full(ctx context.Context, symbol string, tf models.Timeframe, key string, limit int) ([]models.Candle, error) {
	c.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": tf.String(),
		"limit":     limit,
	}).Debug("Full candle fetch")

	candles, err := c.fetcher.FetchCandles(ctx, symbol, tf, limit)
	if err != nil {
		return nil, err
	}

	minCandles := c.cfg.Cache.MinCandles
	if len(candles) < minCandles {
		return nil, &utils.DataInsufficientError{Symbol: symbol, Got: len(candles), Required: minCandles}
	}

	c.store(key, tf, candles)
	c.bump(func(s *CandleCacheStats) { s.FullFetches++ })
	return candles, nil
}

func (c *CandleCache) incremental(ctx context.Context, symbol string, tf models.Timeframe, key string, cached []models.Candle, limit int) ([]models.Candle, error) {
	incLimit := c.cfg.Timeframe(tf).IncrementalLimit
	if incLimit <= 0 {
		incLimit = 5
	}

	recent, err := c.fetcher.FetchCandles(ctx, symbol, tf, incLimit)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, &utils.DataInsufficientError{Symbol: symbol, Got: 0, Required: 1}
	}

	if verr := verifyAlignment(symbol, cached, recent, c.cfg.Cache.VerifyTolerance); verr != nil {
		c.bump(func(s *CandleCacheStats) { s.VerificationFailures++ })
		return nil, verr
	}

	merged := mergeCandles(cached, recent, limit)
	if hasNewCandles(cached, recent) {
		c.store(key, tf, merged)
		c.logger.WithFields(logrus.Fields{
			"symbol":    symbol,
			"timeframe": tf.String(),
		}).Debug("Candle cache updated")
	}
	c.bump(func(s *CandleCacheStats) { s.IncrementalFetches++ })
	return merged, nil
}

// store caches all but the trailing candles.
func (c *CandleCache) store(key string, tf models.Timeframe, candles []models.Candle) {
	if len(candles) <= cachedTailExclusion {
		return
	}
	completed := make([]models.Candle, len(candles)-cachedTailExclusion)
	copy(completed, candles)

	c.mu.Lock()
	c.entries[key] = &CacheEntry{
		Key:       key,
		Timeframe: tf,
		Candles:   completed,
		FetchedAt: c.now(),
	}
	c.mu.Unlock()
}

// verifyAlignment checks that the cached series connects to the recent one.
// The last cached bar must appear in recent with a close within tolerance,
// or recent must start after it.
func verifyAlignment(symbol string, cached, recent []models.Candle, tolerance float64) error {
	last := cached[len(cached)-1]

	for _, rc := range recent {
		if !rc.Timestamp.Equal(last.Timestamp) {
			continue
		}
		if math.Abs(last.Close-rc.Close) > last.Close*tolerance {
			return &utils.CacheVerificationError{Key: symbol, Reason: "close price mismatch at last cached candle"}
		}
		return nil
	}

	if recent[0].Timestamp.After(last.Timestamp) {
		return nil
	}
	return &utils.CacheVerificationError{Key: symbol, Reason: "last cached candle missing from recent data"}
}

// mergeCandles appends candles newer than the cache. With nothing newer the
// freshest recent bar replaces the one at its timestamp. Trimmed to limit.
func mergeCandles(cached, recent []models.Candle, limit int) []models.Candle {
	last := cached[len(cached)-1].Timestamp

	merged := make([]models.Candle, len(cached), len(cached)+len(recent))
	copy(merged, cached)

	appended := false
	for _, rc := range recent {
		if rc.Timestamp.After(last) {
			merged = append(merged, rc)
			appended = true
		}
	}
	if !appended {
		merged = append(merged, recent[len(recent)-1])
	}

	merged = models.NormalizeCandles(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func hasNewCandles(cached, recent []models.Candle) bool {
	last := cached[len(cached)-1].Timestamp
	for _, rc := range recent {
		if rc.Timestamp.After(last) {
			return true
		}
	}
	return false
}

// EvictExpired drops entries past their TTL and returns how many went.
func (c *CandleCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, e := range c.entries {
		if now.Sub(e.FetchedAt) >= c.cfg.CacheTTL(e.Timeframe) {
			delete(c.entries, key)
			n++
		}
	}
	c.stats.Evictions += int64(n)
	return n
}

func (c *CandleCache) bump(fn func(*CandleCacheStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache counters.
func (c *CandleCache) Stats() CandleCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.CachedPairs = len(c.entries)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// LogStats writes the cache counters at info level.
func (c *CandleCache) LogStats() {
	s := c.Stats()
	c.logger.WithFields(logrus.Fields{
		"hits":                  s.Hits,
		"misses":                s.Misses,
		"hit_rate":              s.HitRate,
		"full_fetches":          s.FullFetches,
		"incremental_fetches":   s.IncrementalFetches,
		"verification_failures": s.VerificationFailures,
		"cached_pairs":          s.CachedPairs,
	}).Info("Candle cache statistics")
}
