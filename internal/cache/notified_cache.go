package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NotifiedEntry records an alert that was already sent.
type NotifiedEntry struct {
	Key        string    `json:"key"`
	Kind       string    `json:"kind"`
	NotifiedAt time.Time `json:"notified_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NotifiedCacheStats holds statistics about the notified-signal cache.
type NotifiedCacheStats struct {
	TotalEntries int64     `json:"total_entries"`
	Accepted     int64     `json:"accepted"`
	Duplicates   int64     `json:"duplicates"`
	Swept        int64     `json:"swept"`
	LastCleanup  time.Time `json:"last_cleanup"`
}

// NotifiedCache deduplicates outgoing alerts. TryMark returns true exactly
// once per key until the key's TTL runs out.
type NotifiedCache interface {
	TryMark(ctx context.Context, key, kind string, ttl time.Duration) bool
	Forget(ctx context.Context, key string)
	Sweep(ctx context.Context) int
	GetStats() NotifiedCacheStats
}

// RedisNotifiedCache implements NotifiedCache with SET NX, so duplicate
// suppression survives process restarts.
type RedisNotifiedCache struct {
	client redis.Cmdable
	prefix string
	logger *logrus.Logger

	mu    sync.Mutex
	stats NotifiedCacheStats
}

// NewRedisNotifiedCache creates a Redis-backed notified-signal cache.
func NewRedisNotifiedCache(client redis.Cmdable, logger *logrus.Logger) *RedisNotifiedCache {
	return &RedisNotifiedCache{
		client: client,
		prefix: "notified:",
		logger: logger,
	}
}

// TryMark claims key for ttl. On Redis errors it fails open and allows the
// alert.
func (c *RedisNotifiedCache) TryMark(ctx context.Context, key, kind string, ttl time.Duration) bool {
	now := time.Now()
	data, err := json.Marshal(NotifiedEntry{Key: key, Kind: kind, NotifiedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return true
	}

	ok, err := c.client.SetNX(ctx, c.prefix+key, data, ttl).Result()
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Redis error during alert dedup, allowing alert")
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.stats.Accepted++
	} else {
		c.stats.Duplicates++
	}
	return ok
}

// Forget releases key so the next TryMark succeeds, used when delivery failed.
func (c *RedisNotifiedCache) Forget(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Redis error releasing alert key")
	}
}

// Sweep counts live entries. Redis expires keys on its own.
func (c *RedisNotifiedCache) Sweep(ctx context.Context) int {
	var count int64
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("Redis error scanning notified keys")
	}

	c.mu.Lock()
	c.stats.TotalEntries = count
	c.stats.LastCleanup = time.Now()
	c.mu.Unlock()
	return 0
}

func (c *RedisNotifiedCache) GetStats() NotifiedCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// GetNotified returns the stored entry for key.
func (c *RedisNotifiedCache) GetNotified(ctx context.Context, key string) (*NotifiedEntry, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notified key %s: %w", key, err)
	}
	var entry NotifiedEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode notified key %s: %w", key, err)
	}
	return &entry, nil
}

// MemoryNotifiedCache implements NotifiedCache in process memory.
type MemoryNotifiedCache struct {
	mu      sync.Mutex
	entries map[string]NotifiedEntry
	stats   NotifiedCacheStats
	now     func() time.Time
}

// NewMemoryNotifiedCache creates an in-memory notified-signal cache.
func NewMemoryNotifiedCache() *MemoryNotifiedCache {
	return &MemoryNotifiedCache{
		entries: make(map[string]NotifiedEntry),
		now:     time.Now,
	}
}

func (c *MemoryNotifiedCache) TryMark(_ context.Context, key, kind string, ttl time.Duration) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && now.Before(e.ExpiresAt) {
		c.stats.Duplicates++
		return false
	}
	c.entries[key] = NotifiedEntry{Key: key, Kind: kind, NotifiedAt: now, ExpiresAt: now.Add(ttl)}
	c.stats.Accepted++
	c.stats.TotalEntries = int64(len(c.entries))
	return true
}

func (c *MemoryNotifiedCache) Forget(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.stats.TotalEntries = int64(len(c.entries))
	c.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryNotifiedCache) Sweep(_ context.Context) int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.Swept += int64(removed)
	c.stats.TotalEntries = int64(len(c.entries))
	c.stats.LastCleanup = now
	return removed
}

func (c *MemoryNotifiedCache) GetStats() NotifiedCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
