package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a process-local key/value cache with per-entry expiry and
// prefix eviction. It is best-effort only: it never touches the primary
// store or the network, and its contents can be dropped at any time.
// All operations are safe for concurrent use; the lock is held only for
// the in-memory map operation, never across I/O.
type TTLCache struct {
	mu    sync.Mutex
	store map[string]entry
	now   func() time.Time
}

func New() *TTLCache {
	return &TTLCache{
		store: make(map[string]entry),
		now:   time.Now,
	}
}

// Get returns the cached value, or (nil, false) when the key is missing
// or expired. Expired entries are evicted lazily on the way out.
func (c *TTLCache) Get(key string) (any, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.store, key)
		return nil, false
	}
	return e.value, true
}

// Set overwrites key with value. ttlSeconds is clamped at zero, so a
// negative TTL stores an already-expired entry.
func (c *TTLCache) Set(key string, value any, ttlSeconds int) {
	if ttlSeconds < 0 {
		ttlSeconds = 0
	}
	exp := c.now().Add(time.Duration(ttlSeconds) * time.Second)
	c.mu.Lock()
	c.store[key] = entry{value: value, expiresAt: exp}
	c.mu.Unlock()
}

// DeletePrefix atomically removes every key with the given string prefix
// and reports how many were dropped. It serves both direct eviction and
// remote invalidation events.
func (c *TTLCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.store {
		if strings.HasPrefix(k, prefix) {
			delete(c.store, k)
			n++
		}
	}
	return n
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}
