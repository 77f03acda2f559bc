// Package cache provides an explicit, bounded cache with per-entry expiry
// for loaded artifacts. Each owner creates its own instance.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache maps string keys to values of type V. Every entry costs one unit, so
// maxEntries bounds the entry count.
type Cache[V any] struct {
	store *ristretto.Cache[string, V]
	ttl   time.Duration
}

// New creates a cache holding up to maxEntries values for ttl each. A zero
// ttl keeps entries until evicted.
func New[V any](maxEntries int64, ttl time.Duration) (*Cache[V], error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxEntries)
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		// Costs count entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache[V]{store: store, ttl: ttl}, nil
}

// Get returns the live value for key
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.store.Get(key)
}

// Set stores value and waits until it is visible to Get. It reports false
// when the admission policy rejected the entry.
func (c *Cache[V]) Set(key string, value V) bool {
	ok := c.store.SetWithTTL(key, value, 1, c.ttl)
	c.store.Wait()
	return ok
}

// Delete removes key
func (c *Cache[V]) Delete(key string) {
	c.store.Del(key)
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Load errors are not cached.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, value)
	return value, nil
}

// Clear drops every entry
func (c *Cache[V]) Clear() {
	c.store.Clear()
}

// Close stops the cache's background goroutines
func (c *Cache[V]) Close() {
	c.store.Close()
}
