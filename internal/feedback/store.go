package feedback

import (
	"context"
	"time"

	"feedbackd/internal/core"
)

// Stats counts the records held by a store.
type Stats struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
}

// Limits bounds what a store keeps. Zero values mean no limit.
type Limits struct {
	MaxPending int
	PendingTTL time.Duration
	ResultTTL  time.Duration
}

// Store holds pending requests in arrival order and completed results by id.
// Implementations must make Complete and Take atomic per id: of concurrent
// callers for the same id exactly one succeeds.
type Store interface {
	// NextID returns a fresh id derived from now. Ids are never reused.
	NextID(ctx context.Context, now time.Time) (string, error)

	// Push appends a pending request. Returns core.ErrQueueFull when the
	// pending limit is reached.
	Push(ctx context.Context, req core.FeedbackRequest) error

	// Oldest returns the head of the pending sequence without removing it.
	Oldest(ctx context.Context) (core.FeedbackRequest, bool, error)

	// List returns up to limit pending requests, oldest first.
	List(ctx context.Context, limit int) ([]core.FeedbackRequest, error)

	// Complete moves a pending request to the completed results.
	// Returns core.ErrNotFound when id is not pending.
	Complete(ctx context.Context, id, feedback string, at time.Time) (core.FeedbackResult, error)

	// Take removes and returns a completed result.
	// Returns core.ErrNotFound when there is none for id.
	Take(ctx context.Context, id string) (core.FeedbackResult, error)

	// Len counts pending requests and completed results.
	Len(ctx context.Context) (Stats, error)

	// CleanExpired drops records older than the configured TTLs.
	CleanExpired(ctx context.Context) (int, error)

	// Ping checks the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
