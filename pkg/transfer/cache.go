package transfer

import (
	"sync"
	"sync/atomic"
)

// CacheKey identifies a lookup table: the device/context it lives on, the
// content hash of the transfer function and the table resolution.
type CacheKey struct {
	Context    uint64
	Hash       uint64
	Resolution int
}

// Cache holds built lookup tables. It is owned by an engine (or injected)
// rather than being a process-wide singleton.
//
// The read-and-maybe-insert sequence runs under a single mutex so at most
// one goroutine builds a table for a given key.
type Cache struct {
	mu     sync.Mutex
	tables map[CacheKey]*Table

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{tables: make(map[CacheKey]*Table)}
}

// Table returns the lookup table for tf on the given context, building and
// storing it on a miss. The second return value reports a cache hit.
func (c *Cache) Table(context uint64, tf TransferFunction, resolution int) (*Table, bool) {
	if resolution < 2 {
		resolution = DefaultResolution
	}
	key := CacheKey{Context: context, Hash: tf.ContentHash(), Resolution: resolution}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[key]; ok {
		c.hits.Add(1)
		return t, true
	}

	c.misses.Add(1)
	t := Build(tf, resolution)
	c.tables[key] = t
	return t, false
}

// Purge drops every table belonging to context, e.g. after the device that
// owned them was lost.
func (c *Cache) Purge(context uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.tables {
		if k.Context == context {
			delete(c.tables, k)
		}
	}
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
