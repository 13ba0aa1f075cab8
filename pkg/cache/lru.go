// Package cache provides the bounded LRU used for compiled selectors.
//
// Compiling a selector is cheap but not free, and dashboards issue the same
// handful of selectors over and over. Caching compiled selectors keyed by
// their text avoids re-parsing; LRU eviction bounds memory.
//
// Usage:
//
//	c := cache.NewLRU(256)
//
//	if v, ok := c.Get(selector); ok {
//		return v.(*query.CompiledQuery) // cache hit
//	}
//	cq := compile(selector)
//	c.Put(selector, cq)
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LRU is a thread-safe least-recently-used cache keyed by string.
//
// Internals follow the usual shape: a hash map for O(1) lookup and a
// doubly-linked list for recency order. Get moves the entry to the front;
// Put evicts from the back when at capacity.
type LRU struct {
	mu sync.Mutex

	maxSize int
	list    *list.List
	items   map[string]*list.Element

	hits   uint64
	misses uint64
}

// lruEntry holds one cached item.
type lruEntry struct {
	key   string
	value any
}

// NewLRU creates a cache holding at most maxSize entries. A non-positive
// maxSize falls back to 256.
func NewLRU(maxSize int) *LRU {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &LRU{
		maxSize: maxSize,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get retrieves a cached value, marking it most recently used.
// Returns (value, true) on hit, (nil, false) on miss.
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return elem.Value.(*lruEntry).value, true
}

// Touch marks an entry most recently used without counting a hit or miss.
// Used when an execute path reuses a compiled selector it already holds.
func (c *LRU) Touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.list.MoveToFront(elem)
	}
}

// Put adds a value to the cache, evicting the least recently used entry if
// at capacity. An existing key is updated in place.
func (c *LRU) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*lruEntry).value = value
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	elem := c.list.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = elem
}

// Contains reports whether a key is cached, without touching recency.
func (c *LRU) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Keys returns the cached keys from most to least recently used.
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.list.Len())
	for elem := c.list.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Clear removes all entries.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *LRU) evictOldest() {
	elem := c.list.Back()
	if elem == nil {
		return
	}
	delete(c.items, elem.Value.(*lruEntry).key)
	c.list.Remove(elem)
}

// Stats returns hit/miss counters accumulated since creation.
func (c *LRU) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.Lock()
	size := c.list.Len()
	c.mu.Unlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Stats holds cache performance counters.
type Stats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}
