// Package feedbacktest holds behaviour tests every feedback.Store must pass
// when driven through a feedback.Queue.
package feedbacktest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StoreFactory builds an empty store reading time from clock.
type StoreFactory func(t *testing.T, clock *Clock, limits feedback.Limits) feedback.Store

// Run exercises the queue contract against stores built by newStore.
func Run(t *testing.T, newStore StoreFactory) {
	setup := func(t *testing.T, start time.Time, limits feedback.Limits) (*feedback.Queue, *Clock) {
		clock := NewClock(start)
		store := newStore(t, clock, limits)
		t.Cleanup(func() { _ = store.Close() })
		return feedback.NewQueue(store, feedback.WithClock(clock.Now)), clock
	}
	ctx := context.Background()

	t.Run("acme scenario", func(t *testing.T) {
		q, _ := setup(t, time.UnixMilli(1000), feedback.Limits{})

		id, err := q.Enqueue(ctx, "Acme Co", decimal.RequireFromString("42.50"))
		require.NoError(t, err)
		assert.Equal(t, "1000", id)

		req, ok, err := q.PeekOldestPending(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1000", req.ID)
		assert.Equal(t, "Acme Co", req.Merchant)
		assert.True(t, req.Charge.Equal(decimal.RequireFromString("42.5")))
		assert.Equal(t, core.StatusPending, req.Status)

		require.NoError(t, q.Resolve(ctx, "1000", "Grocery"))

		_, ok, err = q.PeekOldestPending(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		res, err := q.FetchResult(ctx, "1000")
		require.NoError(t, err)
		assert.Equal(t, "Grocery", res.Feedback)
		assert.Equal(t, "1000", res.Request.ID)
		assert.Equal(t, core.StatusCompleted, res.Request.Status)

		_, err = q.FetchResult(ctx, "1000")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("resolving a later request keeps the earlier one at the head", func(t *testing.T) {
		q, clock := setup(t, time.UnixMilli(1), feedback.Limits{})

		first, err := q.Enqueue(ctx, "First", decimal.NewFromInt(1))
		require.NoError(t, err)
		clock.Set(time.UnixMilli(2))
		second, err := q.Enqueue(ctx, "Second", decimal.NewFromInt(2))
		require.NoError(t, err)
		assert.Equal(t, "1", first)
		assert.Equal(t, "2", second)

		require.NoError(t, q.Resolve(ctx, "2", "x"))

		req, ok, err := q.PeekOldestPending(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1", req.ID)
	})

	t.Run("peek on empty queue", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})

		_, ok, err := q.PeekOldestPending(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("peek is idempotent", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})
		id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(5))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			req, ok, err := q.PeekOldestPending(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, id, req.ID)
		}
	})

	t.Run("fifo order", func(t *testing.T) {
		q, _ := setup(t, time.UnixMilli(5000), feedback.Limits{})

		var ids []string
		for i := 0; i < 5; i++ {
			id, err := q.Enqueue(ctx, fmt.Sprintf("Merchant %d", i), decimal.NewFromInt(int64(i)))
			require.NoError(t, err)
			ids = append(ids, id)
		}

		for _, want := range ids {
			req, ok, err := q.PeekOldestPending(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, req.ID)
			require.NoError(t, q.Resolve(ctx, want, "Fun"))
		}
		_, ok, err := q.PeekOldestPending(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ids are unique within one millisecond", func(t *testing.T) {
		q, _ := setup(t, time.UnixMilli(7000), feedback.Limits{})

		seen := map[string]bool{}
		for i := 0; i < 10; i++ {
			id, err := q.Enqueue(ctx, "Same ms", decimal.NewFromInt(1))
			require.NoError(t, err)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	})

	t.Run("resolve unknown id", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})
		_, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(5))
		require.NoError(t, err)

		err = q.Resolve(ctx, "does-not-exist", "Fun")
		assert.ErrorIs(t, err, core.ErrNotFound)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, feedback.Stats{Pending: 1, Completed: 0}, stats)
	})

	t.Run("resolve twice", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})
		id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(5))
		require.NoError(t, err)

		require.NoError(t, q.Resolve(ctx, id, "Fun"))
		assert.ErrorIs(t, q.Resolve(ctx, id, "Utilities"), core.ErrNotFound)

		res, err := q.FetchResult(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Fun", res.Feedback)
	})

	t.Run("fetch while pending", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})
		id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(5))
		require.NoError(t, err)

		_, err = q.FetchResult(ctx, id)
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, ok, err := q.PeekOldestPending(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid input does not mutate", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})

		_, err := q.Enqueue(ctx, "   ", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, core.ErrInvalidInput)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.Pending)
	})

	t.Run("capacity limit", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{MaxPending: 2})

		for i := 0; i < 2; i++ {
			_, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(1))
			require.NoError(t, err)
		}
		_, err := q.Enqueue(ctx, "Overflow", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, core.ErrQueueFull)

		reqs, stats, err := q.ListPending(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, reqs, 2)
		assert.Equal(t, int64(2), stats.Pending)
	})

	t.Run("list pending", func(t *testing.T) {
		q, _ := setup(t, time.UnixMilli(9000), feedback.Limits{})
		for i := 0; i < 4; i++ {
			_, err := q.Enqueue(ctx, fmt.Sprintf("M%d", i), decimal.NewFromInt(int64(i)))
			require.NoError(t, err)
		}

		reqs, stats, err := q.ListPending(ctx, 2)
		require.NoError(t, err)
		require.Len(t, reqs, 2)
		assert.Equal(t, "M0", reqs[0].Merchant)
		assert.Equal(t, "M1", reqs[1].Merchant)
		assert.Equal(t, int64(4), stats.Pending)
	})

	t.Run("concurrent resolve has one winner", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})
		id, err := q.Enqueue(ctx, "Race", decimal.NewFromInt(1))
		require.NoError(t, err)

		var wins, notFound atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := q.Resolve(ctx, id, fmt.Sprintf("answer %d", i))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, core.ErrNotFound):
					notFound.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(15), notFound.Load())
	})

	t.Run("concurrent fetch has one winner", func(t *testing.T) {
		q, _ := setup(t, time.Now(), feedback.Limits{})
		id, err := q.Enqueue(ctx, "Race", decimal.NewFromInt(1))
		require.NoError(t, err)
		require.NoError(t, q.Resolve(ctx, id, "Fun"))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := q.FetchResult(ctx, id); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("concurrent enqueue keeps every request", func(t *testing.T) {
		q, _ := setup(t, time.UnixMilli(20000), feedback.Limits{})

		var wg sync.WaitGroup
		ids := make([]string, 20)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := q.Enqueue(ctx, "Parallel", decimal.NewFromInt(int64(i)))
				assert.NoError(t, err)
				ids[i] = id
			}(i)
		}
		wg.Wait()

		unique := map[string]bool{}
		for _, id := range ids {
			unique[id] = true
		}
		assert.Len(t, unique, 20)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(20), stats.Pending)
	})
}
