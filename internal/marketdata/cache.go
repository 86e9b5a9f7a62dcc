package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nlquant/internal/domain"
)

// BarCache is an explicitly constructed bounded in-memory cache with TTL.
// There is no package-level instance: each run (or process) owns the caches
// it creates, so tests and concurrent runs never share hidden state.
type BarCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order for size eviction
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	bars    []domain.MinuteBar
	addedAt time.Time
}

// NewBarCache creates a cache holding at most maxSize range entries, each
// valid for ttl.
func NewBarCache(maxSize int, ttl time.Duration) *BarCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &BarCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *BarCache) get(key string) ([]domain.MinuteBar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.addedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.bars, true
}

func (c *BarCache) put(key string, bars []domain.MinuteBar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{bars: bars, addedAt: c.now()}
	for len(c.entries) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len reports the number of live entries.
func (c *BarCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cached decorates a Provider with a BarCache. The cache is injected, never
// global.
type Cached struct {
	inner Provider
	cache *BarCache
}

var _ Provider = (*Cached)(nil)

// NewCached wraps inner with cache.
func NewCached(inner Provider, cache *BarCache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

// MinuteBars implements Provider.
func (p *Cached) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	key := fmt.Sprintf("%s|%d|%d", symbol, start.UnixNano(), end.UnixNano())
	if bars, ok := p.cache.get(key); ok {
		return bars, nil
	}
	bars, err := p.inner.MinuteBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	p.cache.put(key, bars)
	return bars, nil
}
