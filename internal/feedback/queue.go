// Package feedback coordinates review requests between the statement
// classifier and the human reviewer.
//
// A request is enqueued as pending, shown to the reviewer oldest first,
// resolved with the reviewer's answer and finally fetched once by the
// submitter. The Queue owns these transitions; a Store holds the records.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"feedbackd/internal/core"
	"feedbackd/internal/log"
)

// Observer receives queue events, typically to update metrics.
type Observer interface {
	Enqueued()
	Resolved()
	Fetched()
	NotFound(op string)
	Expired(n int)
}

type noopObserver struct{}

func (noopObserver) Enqueued()       {}
func (noopObserver) Resolved()       {}
func (noopObserver) Fetched()        {}
func (noopObserver) NotFound(string) {}
func (noopObserver) Expired(int)     {}

// Queue is the single entry point for feedback requests.
type Queue struct {
	store     Store
	now       func() time.Time
	logger    *log.Logger
	observer  Observer
	listeners []ResolveListener
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLogger(logger *log.Logger) Option {
	return func(q *Queue) { q.logger = logger.WithComponent(log.ComponentQueue) }
}

func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithListener registers a listener notified after every successful Resolve.
func WithListener(l ResolveListener) Option {
	return func(q *Queue) { q.listeners = append(q.listeners, l) }
}

// NewQueue creates a queue over store.
func NewQueue(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		now:      time.Now,
		logger:   log.New(log.DefaultConfig()).WithComponent(log.ComponentQueue),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddListener registers a listener after construction.
func (q *Queue) AddListener(l ResolveListener) {
	q.listeners = append(q.listeners, l)
}

// Enqueue records a new pending request and returns its id. The merchant
// is stored as given; callers decide what a usable label is.
func (q *Queue) Enqueue(ctx context.Context, merchant string, charge decimal.Decimal) (string, error) {
	now := q.now()
	id, err := q.store.NextID(ctx, now)
	if err != nil {
		return "", fmt.Errorf("next id: %w", err)
	}

	req := core.NewFeedbackRequest(id, merchant, charge, now)
	if err := q.store.Push(ctx, req); err != nil {
		if errors.Is(err, core.ErrQueueFull) {
			q.logger.WarnContext(ctx, "Feedback queue full, request rejected", log.FieldMerchant, merchant)
			return "", err
		}
		return "", fmt.Errorf("push request: %w", err)
	}

	q.observer.Enqueued()
	q.logger.InfoContext(ctx, "Feedback requested",
		log.FieldFeedbackID, id,
		log.FieldMerchant, merchant,
		log.FieldCharge, charge.String())
	return id, nil
}

// PeekOldestPending returns the request the reviewer should see next.
// ok is false when nothing is pending.
func (q *Queue) PeekOldestPending(ctx context.Context) (core.FeedbackRequest, bool, error) {
	req, ok, err := q.store.Oldest(ctx)
	if err != nil {
		return core.FeedbackRequest{}, false, fmt.Errorf("peek oldest: %w", err)
	}
	return req, ok, nil
}

// ListPending returns up to limit pending requests, oldest first, and the totals.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]core.FeedbackRequest, Stats, error) {
	reqs, err := q.store.List(ctx, limit)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("list pending: %w", err)
	}
	stats, err := q.store.Len(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("count: %w", err)
	}
	return reqs, stats, nil
}

// Resolve answers a pending request. Returns core.ErrNotFound when id is
// not pending, including when it was already resolved.
func (q *Queue) Resolve(ctx context.Context, id, feedback string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty transaction id", core.ErrInvalidInput)
	}

	result, err := q.store.Complete(ctx, id, feedback, q.now())
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			q.observer.NotFound(log.OpResolve)
			return err
		}
		return fmt.Errorf("complete %s: %w", id, err)
	}

	q.observer.Resolved()
	log.NewStructuredLogger(q.logger).LogFeedbackResolved(ctx,
		id, result.Request.Merchant, result.Request.Charge.String(), feedback)

	for _, l := range q.listeners {
		if err := l.FeedbackResolved(ctx, result); err != nil {
			q.logger.ErrorContext(ctx, "Resolve listener failed",
				log.FieldFeedbackID, id,
				log.FieldError, err)
		}
	}
	return nil
}

// FetchResult hands a completed result to the submitter exactly once.
// Unknown, still pending and already fetched ids all return core.ErrNotFound.
func (q *Queue) FetchResult(ctx context.Context, id string) (core.FeedbackResult, error) {
	if strings.TrimSpace(id) == "" {
		return core.FeedbackResult{}, fmt.Errorf("%w: empty request id", core.ErrInvalidInput)
	}

	result, err := q.store.Take(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			q.observer.NotFound(log.OpFetch)
			return core.FeedbackResult{}, err
		}
		return core.FeedbackResult{}, fmt.Errorf("take %s: %w", id, err)
	}

	q.observer.Fetched()
	q.logger.DebugContext(ctx, "Feedback result delivered", log.FieldFeedbackID, id)
	return result, nil
}

// Stats reports current pending and completed counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.store.Len(ctx)
}

// CleanExpired drops records past their TTL. It satisfies cache.Cleaner so
// the queue can be registered with the cleanup manager.
func (q *Queue) CleanExpired(ctx context.Context) (int, error) {
	n, err := q.store.CleanExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("clean expired: %w", err)
	}
	if n > 0 {
		q.observer.Expired(n)
	}
	return n, nil
}

// Ping checks the store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}
