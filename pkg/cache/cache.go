// Package cache provides the process-wide TTL memoization layer used in front
// of the dashboard aggregation. Entries expire lazily on read and are also
// reaped by a periodic sweep. The cache makes no attempt at stampede
// protection: concurrent misses may both recompute and the final Set wins,
// which is acceptable because recomputation is idempotent.
package cache

import (
	"sync"
	"time"

	"github.com/apex/log"
)

// Cache is the injectable result-cache contract.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Invalidate(key string)
	Clear()
}

type entry struct {
	value     interface{}
	timestamp time.Time
	ttl       time.Duration
}

// MemoryCache is the in-process Cache implementation. The clock is injectable
// so tests can expire entries deterministically.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a cache using the real clock.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

// NewMemoryCacheWithClock creates a cache with an explicit clock.
func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Get returns the live value for key, or false when absent or expired.
// Expired entries are removed on read.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.timestamp) > e.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, replacing any prior entry and its expiry.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, timestamp: c.now(), ttl: ttl}
}

// Invalidate removes one key.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.timestamp) > e.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper launches the background reaper; it runs until StopSweeper.
func (c *MemoryCache) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					log.Infof("cache sweep: removed %d expired entries", n)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// StopSweeper terminates the background reaper.
func (c *MemoryCache) StopSweeper() {
	c.once.Do(func() { close(c.stop) })
}
