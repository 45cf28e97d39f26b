package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
	"feedbackd/internal/feedback/feedbacktest"
)

func TestStoreContract(t *testing.T) {
	feedbacktest.Run(t, func(t *testing.T, clock *feedbacktest.Clock, limits feedback.Limits) feedback.Store {
		return New(limits, WithClock(clock.Now))
	})
}

func TestPendingTTL(t *testing.T) {
	ctx := context.Background()
	clock := feedbacktest.NewClock(time.UnixMilli(1_000_000))
	store := New(feedback.Limits{PendingTTL: time.Minute}, WithClock(clock.Now))
	q := feedback.NewQueue(store, feedback.WithClock(clock.Now))

	oldID, err := q.Enqueue(ctx, "Old", decimal.NewFromInt(1))
	require.NoError(t, err)
	clock.Advance(45 * time.Second)
	newID, err := q.Enqueue(ctx, "New", decimal.NewFromInt(2))
	require.NoError(t, err)

	clock.Advance(30 * time.Second)

	req, ok, err := q.PeekOldestPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newID, req.ID)
	assert.ErrorIs(t, q.Resolve(ctx, oldID, "Fun"), core.ErrNotFound)
}

func TestResultTTL(t *testing.T) {
	ctx := context.Background()
	clock := feedbacktest.NewClock(time.UnixMilli(1_000_000))
	store := New(feedback.Limits{ResultTTL: time.Minute}, WithClock(clock.Now))
	q := feedback.NewQueue(store, feedback.WithClock(clock.Now))

	kept, err := q.Enqueue(ctx, "Kept", decimal.NewFromInt(1))
	require.NoError(t, err)
	dropped, err := q.Enqueue(ctx, "Dropped", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NoError(t, q.Resolve(ctx, dropped, "Fun"))

	clock.Advance(30 * time.Second)
	require.NoError(t, q.Resolve(ctx, kept, "Grocery"))
	clock.Advance(45 * time.Second)

	n, err := q.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.FetchResult(ctx, dropped)
	assert.ErrorIs(t, err, core.ErrNotFound)

	res, err := q.FetchResult(ctx, kept)
	require.NoError(t, err)
	assert.Equal(t, "Grocery", res.Feedback)
}

func TestNoExpiryByDefault(t *testing.T) {
	ctx := context.Background()
	clock := feedbacktest.NewClock(time.UnixMilli(1_000_000))
	store := New(feedback.Limits{}, WithClock(clock.Now))
	q := feedback.NewQueue(store, feedback.WithClock(clock.Now))

	id, err := q.Enqueue(ctx, "Forever", decimal.NewFromInt(1))
	require.NoError(t, err)
	clock.Advance(365 * 24 * time.Hour)

	n, err := q.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, q.Resolve(ctx, id, "Payments"))
	clock.Advance(365 * 24 * time.Hour)
	_, err = q.FetchResult(ctx, id)
	assert.NoError(t, err)
}

func TestListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New(feedback.Limits{})
	require.NoError(t, store.Push(ctx, core.NewFeedbackRequest("1", "A", decimal.NewFromInt(1), time.Now())))

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	list[0].Merchant = "mutated"

	req, ok, err := store.Oldest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", req.Merchant)
}

type expiredCounter struct{ expired int }

func (c *expiredCounter) Enqueued()       {}
func (c *expiredCounter) Resolved()       {}
func (c *expiredCounter) Fetched()        {}
func (c *expiredCounter) NotFound(string) {}
func (c *expiredCounter) Expired(n int)   { c.expired += n }

func TestLazyExpiryIsReportedBySweep(t *testing.T) {
	ctx := context.Background()
	clock := feedbacktest.NewClock(time.UnixMilli(1_000_000))
	store := New(feedback.Limits{PendingTTL: time.Minute, ResultTTL: time.Minute}, WithClock(clock.Now))
	obs := &expiredCounter{}
	q := feedback.NewQueue(store, feedback.WithClock(clock.Now), feedback.WithObserver(obs))

	_, err := q.Enqueue(ctx, "Stale", decimal.NewFromInt(1))
	require.NoError(t, err)
	resolved, err := q.Enqueue(ctx, "Answered", decimal.NewFromInt(2))
	require.NoError(t, err)
	require.NoError(t, q.Resolve(ctx, resolved, "Fun"))

	clock.Advance(2 * time.Minute)

	// Both entries are dropped by ordinary reads, before any sweep.
	_, ok, err := q.PeekOldestPending(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = q.FetchResult(ctx, resolved)
	assert.ErrorIs(t, err, core.ErrNotFound)

	stats, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Completed)

	n, err := q.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, obs.expired)

	n, err = q.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "evictions are reported once")
}
