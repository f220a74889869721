package redis

import (
	"context"
	"encoding/json"
	"time"

	"TMProject/logger"
)

const cacheNamespace = "cache:"

// Cache is the shared cross-instance cache tier on top of Redis. Every
// operation is best-effort: a missing client, a connection error or a
// bad payload degrades to a miss / no-op, never to a caller-visible
// failure. Correctness always falls back to the primary store.
type Cache struct {
	prefix string // deploy namespace, e.g. "tm"
}

func NewCache(prefix string) *Cache {
	return &Cache{prefix: prefix}
}

func (c *Cache) key(k string) string {
	ns := cacheNamespace
	if c.prefix != "" {
		ns = c.prefix + ":" + cacheNamespace
	}
	return ns + k
}

// Get unmarshals the cached JSON payload into out. Returns false on
// miss or on any transport/decoding error.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	client, ok := TryGetRedis()
	if !ok {
		return false
	}
	raw, err := client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttlSeconds int) {
	client, ok := TryGetRedis()
	if !ok {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	if err := client.Set(ctx, c.key(key), payload, time.Duration(ttlSeconds)*time.Second).Err(); err != nil {
		logger.Debug("redis cache set failed: " + err.Error())
	}
}

// DeletePrefix scans for namespaced keys under prefix and deletes them
// one by one, returning how many went away.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) int {
	client, ok := TryGetRedis()
	if !ok {
		return 0
	}
	deleted := 0
	iter := client.Scan(ctx, 0, c.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		logger.Debug("redis cache scan failed: " + err.Error())
	}
	return deleted
}
