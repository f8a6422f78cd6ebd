// Package cache provides a thread-safe, in-memory key-value store with
// TTL-based expiration and a bounded number of entries.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"pictor/pkg/logger"
)

const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 30 * time.Minute

	// GCInterval: Expired items cleanup frequency.
	GCInterval = 5 * time.Minute
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Options configures a MemoryCache. A zero TTL falls back to DefaultTTL.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Enabled    bool

	// Now overrides the clock. Tests use it to expire entries.
	Now func() time.Time
}

// MemoryCache holds values of type V for a fixed TTL. A disabled cache is a
// pass-through: Set is a no-op and Get always misses.
type MemoryCache[V any] struct {
	sync.RWMutex
	items      map[string]item[V]
	ttl        time.Duration
	maxEntries int
	enabled    bool
	now        func() time.Time
}

// New initializes the cache. Background expiry is started separately with
// StartGC so the caller owns its lifetime.
func New[V any](opts Options) *MemoryCache[V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &MemoryCache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		enabled:    opts.Enabled,
		now:        now,
	}
	if c.enabled {
		c.items = make(map[string]item[V])
	}
	return c
}

// TTL returns the configured expiration window.
func (c *MemoryCache[V]) TTL() time.Duration { return c.ttl }

// Set stores a value with the configured TTL. When the cache is full the
// entries closest to expiry are evicted first.
func (c *MemoryCache[V]) Set(key string, value V) {
	if !c.enabled {
		return
	}

	c.Lock()
	defer c.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.prune()
	}

	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Get retrieves an item if it exists and hasn't expired.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.enabled {
		return zero, false
	}

	c.RLock()
	defer c.RUnlock()

	it, found := c.items[key]
	if !found || c.now().After(it.expiresAt) {
		return zero, false
	}
	return it.value, true
}

// Delete explicitly removes an item from the cache.
func (c *MemoryCache[V]) Delete(key string) {
	if !c.enabled {
		return
	}

	c.Lock()
	delete(c.items, key)
	c.Unlock()
}

// Purge drops every entry.
func (c *MemoryCache[V]) Purge() {
	if !c.enabled {
		return
	}

	c.Lock()
	c.items = make(map[string]item[V])
	c.Unlock()
}

// Len counts live and not yet collected entries.
func (c *MemoryCache[V]) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.items)
}

// prune evicts entries sorted by expiration time until the cache is at 80%
// of its capacity. Caller holds the write lock.
func (c *MemoryCache[V]) prune() {
	if len(c.items) == 0 {
		return
	}

	target := c.maxEntries * 8 / 10

	type candidate struct {
		key       string
		expiresAt time.Time
	}
	candidates := make([]candidate, 0, len(c.items))
	for k, v := range c.items {
		candidates = append(candidates, candidate{k, v.expiresAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})

	for _, cand := range candidates {
		if len(c.items) <= target {
			break
		}
		delete(c.items, cand.key)
	}
}

// collect removes expired entries and returns how many were dropped.
func (c *MemoryCache[V]) collect() int {
	c.Lock()
	defer c.Unlock()

	now := c.now()
	removed := 0
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// StartGC removes expired items every interval until ctx is done.
func (c *MemoryCache[V]) StartGC(ctx context.Context, interval time.Duration, log *logger.Logger) {
	if !c.enabled {
		return
	}
	if interval <= 0 {
		interval = GCInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.collect(); removed > 0 {
				log.Debug("GC: cleaned %d expired cache entries", removed)
			}
		}
	}
}
