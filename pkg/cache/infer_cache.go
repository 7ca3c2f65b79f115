// Package cache provides inference result caching.
//
// Inference is deterministic for a fixed brain: the same input always yields
// the same output until the next training episode or brain load mutates the
// graph. Caching Infer results avoids re-running wave propagation for
// repeated queries; any mutation must Clear the cache.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// InferCache is a thread-safe LRU cache of input -> output inference results
// with optional TTL expiration.
type InferCache struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration

	list  *list.List
	items map[string]*list.Element

	hits   uint64
	misses uint64
}

type entry struct {
	input     string
	output    string
	expiresAt time.Time
}

// NewInferCache creates a cache holding up to maxSize results. A ttl of 0
// disables expiration, leaving only LRU eviction.
func NewInferCache(maxSize int, ttl time.Duration) *InferCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &InferCache{
		maxSize: maxSize,
		ttl:     ttl,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get returns the cached output for input, if present and unexpired.
func (c *InferCache) Get(input string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[input]
	if !ok {
		c.misses++
		return "", false
	}
	e := elem.Value.(*entry)
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.list.Remove(elem)
		delete(c.items, input)
		c.misses++
		return "", false
	}
	c.list.MoveToFront(elem)
	c.hits++
	return e.output, true
}

// Put caches the output for input, evicting the least recently used entry
// when the cache is full.
func (c *InferCache) Put(input, output string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[input]; ok {
		e := elem.Value.(*entry)
		e.output = output
		e.expiresAt = time.Now().Add(c.ttl)
		c.list.MoveToFront(elem)
		return
	}

	if c.list.Len() >= c.maxSize {
		oldest := c.list.Back()
		if oldest != nil {
			c.list.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).input)
		}
	}

	c.items[input] = c.list.PushFront(&entry{
		input:     input,
		output:    output,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Clear drops every cached result. Call after anything that mutates the
// brain: a training episode, a load, a restored snapshot.
func (c *InferCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of cached results.
func (c *InferCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns cumulative hit and miss counts.
func (c *InferCache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
