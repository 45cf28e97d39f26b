package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
	"feedbackd/internal/feedback/feedbacktest"
)

func newTestStore(t *testing.T, limits feedback.Limits) (*Store, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	return New(client, "test", limits), m
}

func TestStoreContract(t *testing.T) {
	feedbacktest.Run(t, func(t *testing.T, _ *feedbacktest.Clock, limits feedback.Limits) feedback.Store {
		s, _ := newTestStore(t, limits)
		return s
	})
}

func TestNewFromURL(t *testing.T) {
	m := miniredis.RunT(t)
	s, err := NewFromURL(context.Background(), "redis://"+m.Addr()+"/0", "", feedback.Limits{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DefaultPrefix, s.prefix)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewFromURLInvalid(t *testing.T) {
	_, err := NewFromURL(context.Background(), "not-a-url", "", feedback.Limits{})
	assert.Error(t, err)
}

func TestKeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, feedback.Limits{})
	q := feedback.NewQueue(s, feedback.WithClock(func() time.Time { return time.UnixMilli(1000) }))

	id, err := q.Enqueue(ctx, "Acme Co", decimal.RequireFromString("42.50"))
	require.NoError(t, err)

	assert.True(t, m.Exists("test:request:"+id))
	assert.Equal(t, "1000", mustGet(t, m, "test:seq"))
	ids, err := m.List("test:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	require.NoError(t, q.Resolve(ctx, id, "Grocery"))
	assert.False(t, m.Exists("test:request:"+id))
	assert.True(t, m.Exists("test:result:"+id))

	_, err = q.FetchResult(ctx, id)
	require.NoError(t, err)
	assert.False(t, m.Exists("test:result:"+id))
}

func TestIDsSharedAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	m := miniredis.RunT(t)
	a := New(redis.NewClient(&redis.Options{Addr: m.Addr()}), "shared", feedback.Limits{})
	b := New(redis.NewClient(&redis.Options{Addr: m.Addr()}), "shared", feedback.Limits{})

	at := time.UnixMilli(5000)
	idA, err := a.NextID(ctx, at)
	require.NoError(t, err)
	idB, err := b.NextID(ctx, at)
	require.NoError(t, err)

	assert.Equal(t, "5000", idA)
	assert.Equal(t, "5001", idB)
}

func TestPendingTTL(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, feedback.Limits{PendingTTL: time.Minute})
	q := feedback.NewQueue(s)

	oldID, err := q.Enqueue(ctx, "Old", decimal.NewFromInt(1))
	require.NoError(t, err)
	m.FastForward(45 * time.Second)
	newID, err := q.Enqueue(ctx, "New", decimal.NewFromInt(2))
	require.NoError(t, err)
	m.FastForward(30 * time.Second)

	req, ok, err := q.PeekOldestPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newID, req.ID)

	ids, err := s.PendingIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, oldID)
	assert.ErrorIs(t, q.Resolve(ctx, oldID, "Fun"), core.ErrNotFound)
}

func TestCleanExpired(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, feedback.Limits{PendingTTL: time.Minute})
	q := feedback.NewQueue(s)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "Stale", decimal.NewFromInt(1))
		require.NoError(t, err)
	}
	m.FastForward(2 * time.Minute)
	_, err := q.Enqueue(ctx, "Fresh", decimal.NewFromInt(1))
	require.NoError(t, err)

	n, err := q.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestStatsSkipExpiredPendingIDs(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, feedback.Limits{PendingTTL: time.Minute})
	q := feedback.NewQueue(s)

	_, err := q.Enqueue(ctx, "Stale", decimal.NewFromInt(1))
	require.NoError(t, err)
	m.FastForward(2 * time.Minute)
	freshID, err := q.Enqueue(ctx, "Fresh", decimal.NewFromInt(2))
	require.NoError(t, err)

	ids, err := s.PendingIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2, "stale id is still in the list before a sweep")

	pending, stats, err := q.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, freshID, pending[0].ID)
	assert.Equal(t, int64(1), stats.Pending)

	n, err := q.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the sweep still reports the stale id")
}

func TestResultTTL(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, feedback.Limits{ResultTTL: time.Minute})
	q := feedback.NewQueue(s)

	id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NoError(t, q.Resolve(ctx, id, "Fun"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, feedback.Stats{Pending: 0, Completed: 1}, stats)

	m.FastForward(2 * time.Minute)
	_, err = q.FetchResult(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func mustGet(t *testing.T, m *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := m.Get(key)
	require.NoError(t, err)
	return v
}
