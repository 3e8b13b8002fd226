package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const invalidationChannel = "content:invalidate"

// ContentCache is a two-level cache for the content-for-screen pull path: a
// short-lived in-process map in front of Redis.
type ContentCache struct {
	rdb     goredis.Cmdable
	clock   clockwork.Clock
	ttl     time.Duration
	mem     *memoryCache
	metrics *metrics.CacheMetrics
}

var _ domain.AssignmentCache = (*ContentCache)(nil)

// NewContentCache keeps Redis entries for ttl and in-process entries for memTTL.
// m may be nil.
func NewContentCache(rdb goredis.Cmdable, clock clockwork.Clock, ttl, memTTL time.Duration, m *metrics.CacheMetrics) *ContentCache {
	return &ContentCache{
		rdb:     rdb,
		clock:   clock,
		ttl:     ttl,
		mem:     newMemoryCache(clock, memTTL),
		metrics: m,
	}
}

// StartEvictionTimer periodically drops expired in-process entries. The
// returned function stops it.
func (c *ContentCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired content cache entries", "count", evicted, "remaining", c.mem.size())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *ContentCache) Get(ctx context.Context, code string) (*domain.ContentAssignment, bool) {
	if a, ok := c.mem.get(code); ok {
		c.count(true)
		return a, true
	}

	data, err := c.rdb.Get(ctx, cacheKey(code)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.fail("get")
			slog.WarnContext(ctx, "Redis content cache GET failed", "screen_code", code, "error", err)
		}
		c.count(false)
		return nil, false
	}

	var a domain.ContentAssignment
	if err := json.Unmarshal(data, &a); err != nil {
		c.fail("decode")
		slog.WarnContext(ctx, "Failed to decode cached assignment", "screen_code", code, "error", err)
		c.count(false)
		return nil, false
	}

	c.mem.set(code, &a)
	c.count(true)
	return &a, true
}

func (c *ContentCache) Set(ctx context.Context, code string, a *domain.ContentAssignment) {
	c.mem.set(code, a)

	encoded, err := json.Marshal(a)
	if err != nil {
		c.fail("encode")
		slog.WarnContext(ctx, "Failed to encode assignment for cache", "screen_code", code, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(code), encoded, c.ttl).Err(); err != nil {
		c.fail("set")
		slog.WarnContext(ctx, "Failed to populate Redis content cache", "screen_code", code, "error", err)
	}
}

// Invalidate drops the entry everywhere and tells other replicas to drop
// their in-process copy.
func (c *ContentCache) Invalidate(ctx context.Context, code string) error {
	c.mem.invalidate(code)
	if c.metrics != nil {
		c.metrics.Invalidations.Inc()
	}

	if err := c.rdb.Del(ctx, cacheKey(code)).Err(); err != nil {
		c.fail("invalidate")
		return fmt.Errorf("failed to invalidate content cache: %w", err)
	}
	if err := c.rdb.Publish(ctx, invalidationChannel, code).Err(); err != nil {
		c.fail("publish")
		slog.WarnContext(ctx, "Failed to publish content cache invalidation", "screen_code", code, "error", err)
	}
	return nil
}

// forgetLocal drops only the in-process entry.
func (c *ContentCache) forgetLocal(code string) {
	c.mem.invalidate(code)
}

func (c *ContentCache) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.Hits.Inc()
	} else {
		c.metrics.Misses.Inc()
	}
}

func (c *ContentCache) fail(op string) {
	if c.metrics != nil {
		c.metrics.Errors.WithLabelValues(op).Inc()
	}
}

func cacheKey(code string) string {
	return "content_cache:" + code
}

type memoryCache struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	ttl     time.Duration
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	assignment *domain.ContentAssignment
	expiresAt  time.Time
}

func newMemoryCache(clock clockwork.Clock, ttl time.Duration) *memoryCache {
	return &memoryCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]memoryCacheEntry),
	}
}

func (c *memoryCache) get(code string) (*domain.ContentAssignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[code]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.assignment, true
}

func (c *memoryCache) set(code string, a *domain.ContentAssignment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = memoryCacheEntry{assignment: a, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *memoryCache) invalidate(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for code, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, code)
			evicted++
		}
	}
	return evicted
}
