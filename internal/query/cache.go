package query

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a concurrent-safe LRU cache of computed results with TTL
// expiration. Keys begin with the snapshot generation they were computed
// from, so a refreshed snapshot never serves an older generation's results.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	now        func() time.Time
}

type cacheEntry struct {
	value     any
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCache creates a cache with the given capacity and TTL. A non-positive
// capacity or TTL disables caching.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (c *Cache) enabled() bool {
	return c.maxEntries > 0 && c.ttl > 0
}

// cacheKey builds a key scoped to one snapshot generation.
func cacheKey(gen uint64, parts ...string) string {
	return fmt.Sprintf("%d/%s", gen, strings.Join(parts, "/"))
}

// keyGeneration parses the generation prefix of a key.
func keyGeneration(key string) uint64 {
	head, _, _ := strings.Cut(key, "/")
	gen, _ := strconv.ParseUint(head, 10, 64)
	return gen
}

// Get retrieves a cached value. ok is false on miss or expiration.
func (c *Cache) Get(key string) (value any, ok bool) {
	if !c.enabled() {
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.value, true
}

// Put stores a value, evicting the least recently used entry if at capacity.
// Cached values are shared between requests and must not be mutated.
func (c *Cache) Put(key string, value any) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{value: value, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{value: value, createdAt: c.now()}
	c.order = append(c.order, key)
}

// DropBefore removes every entry computed from a generation older than gen.
func (c *Cache) DropBefore(gen uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		remaining []string
		dropped   int
	)
	for _, key := range c.order {
		if keyGeneration(key) < gen {
			delete(c.entries, key)
			dropped++
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
	return dropped
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
