package feedback_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackd/internal/cache"
	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
	"feedbackd/internal/feedback/memory"
	"feedbackd/internal/log"
)

type recordingObserver struct {
	mu       sync.Mutex
	enqueued int
	resolved int
	fetched  int
	notFound map[string]int
	expired  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{notFound: map[string]int{}}
}

func (o *recordingObserver) Enqueued() { o.mu.Lock(); o.enqueued++; o.mu.Unlock() }
func (o *recordingObserver) Resolved() { o.mu.Lock(); o.resolved++; o.mu.Unlock() }
func (o *recordingObserver) Fetched()  { o.mu.Lock(); o.fetched++; o.mu.Unlock() }
func (o *recordingObserver) NotFound(op string) {
	o.mu.Lock()
	o.notFound[op]++
	o.mu.Unlock()
}
func (o *recordingObserver) Expired(n int) { o.mu.Lock(); o.expired += n; o.mu.Unlock() }

func TestQueueNotifiesObserver(t *testing.T) {
	ctx := context.Background()
	obs := newRecordingObserver()
	q := feedback.NewQueue(memory.New(feedback.Limits{}), feedback.WithObserver(obs))

	id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.ErrorIs(t, q.Resolve(ctx, "missing", "Fun"), core.ErrNotFound)
	require.NoError(t, q.Resolve(ctx, id, "Fun"))
	_, err = q.FetchResult(ctx, id)
	require.NoError(t, err)
	_, err = q.FetchResult(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Equal(t, 1, obs.enqueued)
	assert.Equal(t, 1, obs.resolved)
	assert.Equal(t, 1, obs.fetched)
	assert.Equal(t, map[string]int{log.OpResolve: 1, log.OpFetch: 1}, obs.notFound)
}

func TestQueueListenersRunAfterResolve(t *testing.T) {
	ctx := context.Background()
	var got []core.FeedbackResult
	q := feedback.NewQueue(memory.New(feedback.Limits{}),
		feedback.WithListener(feedback.ListenerFunc(func(_ context.Context, r core.FeedbackResult) error {
			got = append(got, r)
			return nil
		})),
	)

	id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, q.Resolve(ctx, id, "Utilities"))

	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].Request.ID)
	assert.Equal(t, "Utilities", got[0].Feedback)
}

func TestQueueListenerFailureKeepsResolution(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := log.NewText(&buf, slog.LevelInfo, "test")

	q := feedback.NewQueue(memory.New(feedback.Limits{}), feedback.WithLogger(logger))
	q.AddListener(feedback.ListenerFunc(func(context.Context, core.FeedbackResult) error {
		return errors.New("archive down")
	}))

	id, err := q.Enqueue(ctx, "Shop", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, q.Resolve(ctx, id, "Fun"))

	res, err := q.FetchResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Fun", res.Feedback)
	assert.True(t, strings.Contains(buf.String(), "archive down"))
}

func TestQueueRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	q := feedback.NewQueue(memory.New(feedback.Limits{}))

	assert.ErrorIs(t, q.Resolve(ctx, " ", "Fun"), core.ErrInvalidInput)
	_, err := q.FetchResult(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestQueueStoresMerchantVerbatim(t *testing.T) {
	ctx := context.Background()
	q := feedback.NewQueue(memory.New(feedback.Limits{}))

	for _, merchant := range []string{"", "  padded  ", strings.Repeat("x", 5000)} {
		id, err := q.Enqueue(ctx, merchant, decimal.NewFromInt(1))
		require.NoError(t, err)

		req, ok, err := q.PeekOldestPending(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, req.ID)
		assert.Equal(t, merchant, req.Merchant)
		require.NoError(t, q.Resolve(ctx, id, strings.Repeat("y", 5000)))
	}
}

func TestQueueAcceptsNegativeCharge(t *testing.T) {
	ctx := context.Background()
	q := feedback.NewQueue(memory.New(feedback.Limits{}))

	_, err := q.Enqueue(ctx, "Refund", decimal.RequireFromString("-12.34"))
	require.NoError(t, err)

	req, ok, err := q.PeekOldestPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "-12.34", req.Charge.String())
}

func TestQueueSweepsThroughCacheManager(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_000_000)
	clock := func() time.Time { return now }
	obs := newRecordingObserver()

	store := memory.New(feedback.Limits{PendingTTL: time.Minute}, memory.WithClock(clock))
	q := feedback.NewQueue(store, feedback.WithClock(clock), feedback.WithObserver(obs))

	_, err := q.Enqueue(ctx, "Stale", decimal.NewFromInt(1))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)

	m := cache.NewManager(nil)
	m.Register(q)
	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 1, obs.expired)
}
