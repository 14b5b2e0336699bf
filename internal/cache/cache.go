// Package cache provides a small keyed TTL cache for values fetched from the
// store, replacing ambient module-level caches with an explicit component
// that is injected into its callers.
//
// Each key holds {value, fetchedAt, ttl}; [Keyed.Get] refetches through the
// supplied fetch function once the entry is older than the TTL, and
// [Keyed.Invalidate] drops an entry so the next Get refetches immediately.
package cache

import (
	"context"
	"sync"
	"time"
)

// entry is one cached value with its fetch timestamp.
type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// FetchFunc loads the value for a key from the underlying source.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Keyed is a per-key TTL cache. Safe for concurrent use. Fetches for the
// same key are not deduplicated; concurrent misses may each hit the source,
// which is acceptable for the cheap lookups this cache fronts.
type Keyed[V any] struct {
	ttl   time.Duration
	fetch FetchFunc[V]

	// now is swappable in tests.
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
}

// NewKeyed creates a cache whose entries expire ttl after they were fetched.
func NewKeyed[V any](ttl time.Duration, fetch FetchFunc[V]) *Keyed[V] {
	return &Keyed[V]{
		ttl:     ttl,
		fetch:   fetch,
		now:     time.Now,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key, fetching it when the cache is cold
// or the entry has outlived the TTL. A failed refetch does not evict a stale
// entry; the error is returned and the next Get tries again.
func (c *Keyed[V]) Get(ctx context.Context, key string) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	fresh := ok && c.now().Sub(e.fetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		return e.value, nil
	}

	value, err := c.fetch(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops the entry for key so the next Get refetches.
func (c *Keyed[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
