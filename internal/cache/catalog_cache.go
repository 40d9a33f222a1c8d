package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CatalogCache stores the tradable symbol list of each market-data provider
// so restarts do not have to reload every exchange catalog.
type CatalogCache interface {
	Get(ctx context.Context, providerID string) ([]string, bool)
	Set(ctx context.Context, providerID string, symbols []string)
	GetStats() CatalogCacheStats
}

// CatalogCacheEntry represents a cached catalog with metadata
type CatalogCacheEntry struct {
	Symbols   []string  `json:"symbols"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CatalogCacheStats tracks cache performance metrics
type CatalogCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits over lookups in percent.
func (s CatalogCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

type catalogStats struct {
	mu sync.Mutex
	CatalogCacheStats
}

func (s *catalogStats) hit()  { s.mu.Lock(); s.Hits++; s.mu.Unlock() }
func (s *catalogStats) miss() { s.mu.Lock(); s.Misses++; s.mu.Unlock() }
func (s *catalogStats) set()  { s.mu.Lock(); s.Sets++; s.mu.Unlock() }

func (s *catalogStats) snapshot() CatalogCacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CatalogCacheStats
}

// RedisCatalogCache implements catalog caching using Redis
type RedisCatalogCache struct {
	redis  redis.Cmdable
	ttl    time.Duration
	stats  *catalogStats
	prefix string
	logger *logrus.Logger
}

// NewRedisCatalogCache creates a new Redis-based catalog cache
func NewRedisCatalogCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *RedisCatalogCache {
	return &RedisCatalogCache{
		redis:  client,
		ttl:    ttl,
		stats:  &catalogStats{},
		prefix: "catalog:",
		logger: logger,
	}
}

// Get retrieves the catalog for a provider from Redis. Entries past their
// logical expiry are treated as misses.
func (c *RedisCatalogCache) Get(ctx context.Context, providerID string) ([]string, bool) {
	cacheKey := c.prefix + providerID

	data, err := c.redis.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		c.stats.miss()
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("provider", providerID).Warn("Redis error reading catalog")
		c.stats.miss()
		return nil, false
	}

	var entry CatalogCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.WithError(err).WithField("provider", providerID).Warn("Discarding corrupt cached catalog")
		c.stats.miss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) || len(entry.Symbols) == 0 {
		c.stats.miss()
		return nil, false
	}

	c.stats.hit()
	return entry.Symbols, true
}

// Set stores the catalog for a provider in Redis with TTL
func (c *RedisCatalogCache) Set(ctx context.Context, providerID string, symbols []string) {
	cacheKey := c.prefix + providerID

	now := time.Now()
	entry := CatalogCacheEntry{
		Symbols:   sortedCopy(symbols),
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.WithError(err).WithField("provider", providerID).Warn("Error serializing catalog")
		return
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("provider", providerID).Warn("Redis error storing catalog")
		return
	}

	c.stats.set()
	c.logger.WithFields(logrus.Fields{
		"provider": providerID,
		"symbols":  len(symbols),
		"ttl":      c.ttl.String(),
	}).Debug("Cached provider catalog")
}

// GetStats returns current cache statistics
func (c *RedisCatalogCache) GetStats() CatalogCacheStats {
	return c.stats.snapshot()
}

// Clear removes all cached catalogs.
func (c *RedisCatalogCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	return nil
}

// MemoryCatalogCache is the in-process CatalogCache used when Redis is off.
type MemoryCatalogCache struct {
	mu      sync.RWMutex
	entries map[string]CatalogCacheEntry
	ttl     time.Duration
	stats   *catalogStats
	now     func() time.Time
}

// NewMemoryCatalogCache creates an in-memory catalog cache.
func NewMemoryCatalogCache(ttl time.Duration) *MemoryCatalogCache {
	return &MemoryCatalogCache{
		entries: make(map[string]CatalogCacheEntry),
		ttl:     ttl,
		stats:   &catalogStats{},
		now:     time.Now,
	}
}

func (c *MemoryCatalogCache) Get(_ context.Context, providerID string) ([]string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[providerID]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.ExpiresAt) {
		c.stats.miss()
		return nil, false
	}
	c.stats.hit()
	return append([]string(nil), entry.Symbols...), true
}

func (c *MemoryCatalogCache) Set(_ context.Context, providerID string, symbols []string) {
	now := c.now()
	c.mu.Lock()
	c.entries[providerID] = CatalogCacheEntry{
		Symbols:   sortedCopy(symbols),
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()
	c.stats.set()
}

func (c *MemoryCatalogCache) GetStats() CatalogCacheStats {
	return c.stats.snapshot()
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
