package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheTake(t *testing.T) {
	c := NewTTLCache[string](0)
	c.Set("a", "alpha")

	v, ok := c.Take("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	_, ok = c.Take("a")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestTTLCacheTakeConcurrent(t *testing.T) {
	c := NewTTLCache[int](0)
	c.Set("k", 1)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Take("k"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTTLCacheNoTTLNeverExpires(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewTTLCache[string](0).WithClock(func() time.Time { return now })
	for i := 0; i < 100; i++ {
		c.Set(strconv.Itoa(i), "v")
	}

	now = now.Add(1000 * time.Hour)
	assert.Zero(t, c.CleanExpired())
	assert.Equal(t, 100, c.Size())
	v, ok := c.Take("7")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewTTLCache[string](time.Minute).WithClock(func() time.Time { return now })
	c.Set("old", "1")
	now = now.Add(30 * time.Second)
	c.Set("new", "2")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, c.Size(), "expired entries are not counted")
	_, ok := c.Take("old")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	assert.Equal(t, 2, c.CleanExpired(), "dropped by Take plus swept")
	assert.Zero(t, c.Size())
	assert.Zero(t, c.CleanExpired())
}

func TestTTLCacheSetRefreshesExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewTTLCache[string](time.Minute).WithClock(func() time.Time { return now })
	c.Set("k", "1")
	now = now.Add(50 * time.Second)
	c.Set("k", "2")
	now = now.Add(50 * time.Second)

	v, ok := c.Take("k")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestManagerSweep(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)

	m.Register(CleanerFunc(func(context.Context) (int, error) { return 2, nil }))
	m.Register(CleanerFunc(func(context.Context) (int, error) { return 0, errors.New("boom") }))
	m.Register(CleanerFunc(func(context.Context) (int, error) { return 3, nil }))

	assert.Equal(t, 5, m.Sweep(ctx))
}

func TestManagerStartStop(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(nil)
	m.Register(CleanerFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}))

	m.StartCleanup(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}
