// Package memory provides the in-process feedback store. State is lost on restart.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"feedbackd/internal/cache"
	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
)

// Store keeps pending requests in a slice and completed results in a TTL
// cache. One mutex serialises every mutation.
type Store struct {
	mu        sync.Mutex
	limits    feedback.Limits
	now       func() time.Time
	lastID    int64
	pending   []core.FeedbackRequest
	completed *cache.TTLCache[core.FeedbackResult]

	// pruned counts pending requests expired outside CleanExpired.
	pruned int
}

type Option func(*Store)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(limits feedback.Limits, opts ...Option) *Store {
	s := &Store{
		limits: limits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.completed = cache.NewTTLCache[core.FeedbackResult](limits.ResultTTL).WithClock(s.now)
	return s
}

// NextID returns now in unix milliseconds, bumped past the last id handed out.
func (s *Store) NextID(_ context.Context, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) Push(_ context.Context, req core.FeedbackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if s.limits.MaxPending > 0 && len(s.pending) >= s.limits.MaxPending {
		return core.ErrQueueFull
	}
	s.pending = append(s.pending, req)
	return nil
}

func (s *Store) Oldest(_ context.Context) (core.FeedbackRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if len(s.pending) == 0 {
		return core.FeedbackRequest{}, false, nil
	}
	return s.pending[0], true, nil
}

func (s *Store) List(_ context.Context, limit int) ([]core.FeedbackRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	n := len(s.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]core.FeedbackRequest, n)
	copy(out, s.pending[:n])
	return out, nil
}

func (s *Store) Complete(_ context.Context, id, feedbackText string, at time.Time) (core.FeedbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	idx := -1
	for i, req := range s.pending {
		if req.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return core.FeedbackResult{}, core.ErrNotFound
	}

	req := s.pending[idx]
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)

	result := req.Resolve(feedbackText, at)
	s.completed.Set(id, result)
	return result, nil
}

func (s *Store) Take(_ context.Context, id string) (core.FeedbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.completed.Take(id)
	if !ok {
		return core.FeedbackResult{}, core.ErrNotFound
	}
	return result, nil
}

func (s *Store) Len(_ context.Context) (feedback.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	return feedback.Stats{
		Pending:   int64(len(s.pending)),
		Completed: int64(s.completed.Size()),
	}, nil
}

func (s *Store) CleanExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	n := s.pruned + s.completed.CleanExpired()
	s.pruned = 0
	return n, nil
}

// pruneLocked drops pending requests older than PendingTTL and adds them to
// s.pruned. Pending is in creation order so expired requests form a prefix.
func (s *Store) pruneLocked() {
	if s.limits.PendingTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.limits.PendingTTL)
	n := 0
	for n < len(s.pending) && s.pending[n].CreatedAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		s.pending = append([]core.FeedbackRequest(nil), s.pending[n:]...)
		s.pruned += n
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ feedback.Store = (*Store)(nil)
