// Package cache provides a small generic TTL cache with an optional LRU cap,
// used throughout the pipeline for the session cache, FIR cache, KB retrieval
// cache, model-dependency health cache, and the cached /metrics snapshot.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is a generic, TTL-expiring key/value cache. When capacity > 0 it
// additionally evicts least-recently-used entries once that many keys are
// held, using hashicorp/golang-lru/v2's recency tracking; capacity == 0 means
// unbounded (TTL is the only eviction policy).
type TTLCache[K comparable, V any] struct {
	mu       sync.RWMutex
	ttl      time.Duration
	entries  map[K]entry[V]
	recency  *lru.Cache[K, struct{}]
	capacity int
}

// New creates a TTLCache with the given default entry lifetime. A capacity of
// 0 disables the LRU cap.
func New[K comparable, V any](ttl time.Duration, capacity int) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		ttl:      ttl,
		entries:  make(map[K]entry[V]),
		capacity: capacity,
	}
	if capacity > 0 {
		// The LRU only tracks recency/eviction order; values live in entries.
		recency, err := lru.NewWithEvict[K, struct{}](capacity, func(key K, _ struct{}) {
			delete(c.entries, key)
		})
		if err != nil {
			// Only returns an error for size <= 0, which can't happen here.
			panic(err)
		}
		c.recency = recency
	}
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expires) {
		return zero, false
	}
	if c.recency != nil {
		// A hit counts as a use: move key to the most-recent end.
		c.recency.Get(key)
	}
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores value under key with an explicit TTL override.
func (c *TTLCache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expires: time.Now().Add(ttl)}
	if c.recency != nil {
		c.recency.Add(key, struct{}{})
	}
}

// Delete invalidates a single key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	if c.recency != nil {
		c.recency.Remove(key)
	}
}

// Clear removes every entry.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]entry[V])
	if c.recency != nil {
		c.recency.Purge()
	}
}

// Len returns the number of entries currently held, including expired ones
// not yet swept.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many were purged. Callers
// run this on a ticker; correctness never depends on it since Get already
// treats expired entries as misses.
func (c *TTLCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
			if c.recency != nil {
				c.recency.Remove(key)
			}
			removed++
		}
	}
	return removed
}
