// Package cache provides a bounded TTL cache for expensive lookups.
//
// Responsibilities:
//   - Cache evidence fetches (log tails, metric snapshots) so a burst of
//     insights on one resource does not re-pull identical data
//   - Bound memory with LRU eviction
//   - Expire entries by wall-clock TTL
//   - Expose hit/miss counts for diagnostics
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is an LRU cache whose entries additionally expire after a fixed
// interval. A zero interval disables age-based expiry, leaving only
// LRU eviction. Safe for concurrent use.
type TTL[V any] struct {
	inner *lru.Cache[string, entry[V]]
	ttl   time.Duration
	now   func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a TTL cache holding at most size entries.
func New[V any](size int, ttl time.Duration) (*TTL[V], error) {
	inner, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &TTL[V]{inner: inner, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached value when present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.inner.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.inner.Remove(key)
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores a value under key, evicting the oldest entry when full.
func (c *TTL[V]) Set(key string, value V) {
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.inner.Add(key, entry[V]{value: value, expiresAt: expires})
}

// Delete removes a key.
func (c *TTL[V]) Delete(key string) {
	c.inner.Remove(key)
}

// Purge empties the cache.
func (c *TTL[V]) Purge() {
	c.inner.Purge()
}

// Stats returns hit and miss counts plus the live entry count.
func (c *TTL[V]) Stats() (hits, misses uint64, entries int) {
	return c.hits.Load(), c.misses.Load(), c.inner.Len()
}
