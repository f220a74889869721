package cachebus

import (
	"context"
	"testing"
	"time"

	"TMProject/service/bus"
	"TMProject/service/cache"

	"github.com/stretchr/testify/assert"
)

func newPeer(broker *bus.MemoryBroker) (*cache.TTLCache, *Invalidator, *bus.Bus) {
	local := cache.New()
	b := bus.New(bus.Config{
		Enabled:        true,
		TopicPrefix:    "tm",
		Topics:         []string{Topic},
		HandlerTimeout: time.Second,
	}, broker.Transport())
	iv := New(local, nil, b)
	b.StartConsumer(iv.HandleEvent)
	return local, iv, b
}

func waitAbsent(t *testing.T, c *cache.TTLCache, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get(key); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("key %q still present", key)
}

func TestInvalidationFanOut(t *testing.T) {
	broker := bus.NewMemoryBroker()
	cacheA, ivA, busA := newPeer(broker)
	cacheB, _, busB := newPeer(broker)
	defer busA.Stop()
	defer busB.Stop()

	cacheA.Set("p:1", "a", 60)
	cacheB.Set("p:1", "b", 60)
	cacheB.Set("p:2", "b", 60)
	cacheB.Set("q:1", "keep", 60)

	// writing on A invalidates A synchronously and B via the bus,
	// regardless of B's own TTL state
	ivA.Invalidate(context.Background(), "p:")

	_, ok := cacheA.Get("p:1")
	assert.False(t, ok, "local evict must be synchronous")

	waitAbsent(t, cacheB, "p:1")
	waitAbsent(t, cacheB, "p:2")

	v, ok := cacheB.Get("q:1")
	assert.True(t, ok)
	assert.Equal(t, "keep", v)
}

func TestSelfDeliveryHarmless(t *testing.T) {
	broker := bus.NewMemoryBroker()
	cacheA, ivA, busA := newPeer(broker)
	defer busA.Stop()

	cacheA.Set("p:1", "a", 60)
	ivA.Invalidate(context.Background(), "p:")

	// the originator receives its own broadcast; the second delete is a no-op
	time.Sleep(50 * time.Millisecond)
	_, ok := cacheA.Get("p:1")
	assert.False(t, ok)
}

func TestForeignEventsIgnored(t *testing.T) {
	local := cache.New()
	iv := New(local, nil, nil)
	local.Set("p:1", "a", 60)

	iv.HandleEvent("tm.messages", bus.Event{Type: "invalidate", Pattern: "p:"})
	_, ok := local.Get("p:1")
	assert.True(t, ok, "non-cache topics must not evict")

	iv.HandleEvent("tm.cache", bus.Event{Type: "message_created", GroupID: "g"})
	_, ok = local.Get("p:1")
	assert.True(t, ok, "unknown types must not evict")

	iv.HandleEvent("tm.cache", bus.Event{Type: "invalidate", Pattern: ""})
	_, ok = local.Get("p:1")
	assert.True(t, ok, "empty patterns must not evict")

	iv.HandleEvent("tm.cache", bus.Event{Type: "INVALIDATE", Pattern: "p:"})
	_, ok = local.Get("p:1")
	assert.False(t, ok, "type match is case-insensitive")
}

func TestInvalidateWithoutBus(t *testing.T) {
	local := cache.New()
	iv := New(local, nil, nil)
	local.Set("p:1", "a", 60)

	iv.Invalidate(context.Background(), "p:")
	_, ok := local.Get("p:1")
	assert.False(t, ok)
}
