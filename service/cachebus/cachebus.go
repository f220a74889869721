package cachebus

import (
	"context"
	"strings"

	"TMProject/service/bus"
	"TMProject/service/cache"
	redisstore "TMProject/service/storage/redis"
)

// Topic is the broadcast channel for invalidation events.
const Topic = "cache"

// Invalidator fans one cache eviction out to every copy a mutation can
// reach: the local TTL map, the shared Redis tier, and (via the bus)
// every peer instance's local map. Everything past the local evict is
// best-effort; the local evict alone guarantees this instance's own
// next read is correct.
type Invalidator struct {
	local  *cache.TTLCache
	shared *redisstore.Cache // nil when Redis is not configured
	bus    *bus.Bus          // nil when the bus is disabled
}

func New(local *cache.TTLCache, shared *redisstore.Cache, b *bus.Bus) *Invalidator {
	return &Invalidator{local: local, shared: shared, bus: b}
}

// Invalidate evicts prefix locally, in the shared tier, and broadcasts
// it so peers converge. Never returns an error: cache-layer failures
// must not reach the caller.
func (iv *Invalidator) Invalidate(ctx context.Context, prefix string) {
	if prefix == "" {
		return
	}
	iv.local.DeletePrefix(prefix)
	if iv.shared != nil {
		iv.shared.DeletePrefix(ctx, prefix)
	}
	if iv.bus != nil {
		iv.bus.Publish(ctx, Topic, bus.Event{Type: "invalidate", Pattern: prefix})
	}
}

// HandleEvent applies a remote invalidation to the local cache. Events
// on other topics and unknown types are ignored. The originator may
// receive its own broadcast; the redundant delete is harmless.
func (iv *Invalidator) HandleEvent(topic string, ev bus.Event) {
	if !strings.HasSuffix(topic, Topic) {
		return
	}
	if strings.ToLower(ev.Type) != "invalidate" || ev.Pattern == "" {
		return
	}
	iv.local.DeletePrefix(ev.Pattern)
}
