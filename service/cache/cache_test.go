package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	c := New()
	c.Set("k", "v", 60)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.now = func() time.Time { return now }

	c.Set("k", "v", 1)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// just before the deadline the entry is still present
	now = base.Add(990 * time.Millisecond)
	_, ok = c.Get("k")
	assert.True(t, ok)

	// strictly after expiry the entry is absent and evicted
	now = base.Add(1010 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestExpiryAtExactDeadline(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.now = func() time.Time { return now }

	c.Set("k", "v", 5)
	now = base.Add(5 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok, "now >= expiresAt must read as absent")
}

func TestNegativeTTLClamped(t *testing.T) {
	c := New()
	c.Set("k", "v", -10)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestOverwrite(t *testing.T) {
	c := New()
	c.Set("k", "old", 60)
	c.Set("k", "new", 60)
	v, _ := c.Get("k")
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
}

func TestDeletePrefix(t *testing.T) {
	c := New()
	c.Set("a:1", "x", 60)
	c.Set("a:2", "y", 60)
	c.Set("b:1", "z", 60)

	n := c.DeletePrefix("a:")
	assert.Equal(t, 2, n)

	_, ok := c.Get("a:1")
	assert.False(t, ok)
	_, ok = c.Get("a:2")
	assert.False(t, ok)

	v, ok := c.Get("b:1")
	assert.True(t, ok)
	assert.Equal(t, "z", v)

	// deleting an absent prefix is a harmless no-op
	assert.Equal(t, 0, c.DeletePrefix("a:"))
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("p:%d:%d", i, j)
				c.Set(key, j, 60)
				c.Get(key)
				if j%50 == 0 {
					c.DeletePrefix(fmt.Sprintf("p:%d:", i))
				}
			}
		}(i)
	}
	wg.Wait()
}
