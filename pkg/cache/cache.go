// Package cache is the exact-match response cache in front of the providers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pario-ai/tutorgate/pkg/logger"
	"github.com/pario-ai/tutorgate/pkg/metrics"
	"github.com/pario-ai/tutorgate/pkg/models"
	"github.com/pario-ai/tutorgate/pkg/store"
	"github.com/sirupsen/logrus"
)

// Cache maps (prompt, model, temperature) to a previously returned answer.
type Cache struct {
	store  store.Store
	ttl    time.Duration
	now    func() time.Time
	log    *logrus.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New creates a Cache over s. Entries older than ttl read as absent.
func New(s store.Store, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{store: s, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.OrDiscard(c.log)
	return c
}

// Key returns the cache key for a prompt, model and temperature.
func Key(prompt, model string, temperature float64) string {
	h := sha256.Sum256([]byte(prompt + "_" + model + "_" + strconv.FormatFloat(temperature, 'f', -1, 64)))
	return fmt.Sprintf("%x", h)
}

// Lookup returns the cached answer if present and fresh. Storage errors are
// logged and reported as a miss.
func (c *Cache) Lookup(ctx context.Context, prompt, model string, temperature float64) (string, bool) {
	key := Key(prompt, model, temperature)
	entry, ok, err := c.get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	if !ok || c.expired(entry) {
		c.misses.Add(1)
		metrics.RecordCacheMiss()
		return "", false
	}
	c.hits.Add(1)
	metrics.RecordCacheHit()
	c.log.WithField("model", model).Debug("cache hit")
	return entry.Response, true
}

// Store records answer, overwriting any previous entry for the same key.
func (c *Cache) Store(ctx context.Context, prompt, model string, temperature float64, answer string) error {
	data, err := json.Marshal(models.CacheEntry{Response: answer, Timestamp: c.now()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.store.Put(ctx, Key(prompt, model, temperature), data); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: int64(len(keys)),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are
// removed. It returns how many entries were deleted.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) (int, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	removed := 0
	for _, k := range keys {
		if expiredOnly {
			entry, ok, err := c.get(ctx, k)
			if err == nil && ok && !c.expired(entry) {
				continue
			}
		}
		if err := c.store.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("cache clear: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return models.CacheEntry{}, false, err
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (c *Cache) expired(e models.CacheEntry) bool {
	return c.now().Sub(e.Timestamp) > c.ttl
}
