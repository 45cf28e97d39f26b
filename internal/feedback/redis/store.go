// Package redis provides a Redis-backed feedback store shared by every
// replica and surviving restarts.
//
// Keys, under a configurable prefix:
//
//	<prefix>:seq            last id handed out
//	<prefix>:pending        list of pending ids, oldest at the head
//	<prefix>:request:<id>   pending request JSON
//	<prefix>:result:<id>    completed result JSON
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
)

const DefaultPrefix = "feedbackd"

// nextIDScript returns max(now, last+1) and stores it as the new last id.
var nextIDScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
if now <= last then
	return redis.call('INCR', KEYS[1])
end
redis.call('SET', KEYS[1], ARGV[1])
return now
`)

// pushScript stores the request and appends its id unless the pending list is full.
var pushScript = redis.NewScript(`
local max = tonumber(ARGV[3])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
	return 0
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// livePendingScript counts pending ids whose request key still exists.
var livePendingScript = redis.NewScript(`
local live = 0
for _, id in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
	live = live + redis.call('EXISTS', ARGV[1] .. id)
end
return live
`)

// Store is a Redis-backed implementation of feedback.Store.
type Store struct {
	client *redis.Client
	prefix string
	limits feedback.Limits
}

// New creates a store using an existing client.
func New(client *redis.Client, prefix string, limits feedback.Limits) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, limits: limits}
}

// NewFromURL connects to redisURL and verifies the connection.
func NewFromURL(ctx context.Context, redisURL, prefix string, limits feedback.Limits) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 30 * time.Second

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := New(client, prefix, limits)
	slog.Info("Redis feedback store connected", "prefix", s.prefix)
	return s, nil
}

func (s *Store) seqKey() string              { return s.prefix + ":seq" }
func (s *Store) pendingKey() string          { return s.prefix + ":pending" }
func (s *Store) requestKey(id string) string { return s.prefix + ":request:" + id }
func (s *Store) resultKey(id string) string  { return s.prefix + ":result:" + id }

// NextID returns now in unix milliseconds, bumped past the last id handed
// out by any replica.
func (s *Store) NextID(ctx context.Context, now time.Time) (string, error) {
	id, err := nextIDScript.Run(ctx, s.client, []string{s.seqKey()}, now.UnixMilli()).Int64()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) Push(ctx context.Context, req core.FeedbackRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ok, err := pushScript.Run(ctx, s.client,
		[]string{s.pendingKey(), s.requestKey(req.ID)},
		req.ID, data, s.limits.MaxPending, s.limits.PendingTTL.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return core.ErrQueueFull
	}
	return nil
}

// Oldest returns the head of the pending list, dropping ids whose request
// key has expired on the way.
func (s *Store) Oldest(ctx context.Context) (core.FeedbackRequest, bool, error) {
	for {
		id, err := s.client.LIndex(ctx, s.pendingKey(), 0).Result()
		if errors.Is(err, redis.Nil) {
			return core.FeedbackRequest{}, false, nil
		}
		if err != nil {
			return core.FeedbackRequest{}, false, err
		}

		req, found, err := s.getRequest(ctx, id)
		if err != nil {
			return core.FeedbackRequest{}, false, err
		}
		if found {
			return req, true, nil
		}
		if err := s.client.LRem(ctx, s.pendingKey(), 1, id).Err(); err != nil {
			return core.FeedbackRequest{}, false, err
		}
	}
}

func (s *Store) List(ctx context.Context, limit int) ([]core.FeedbackRequest, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.LRange(ctx, s.pendingKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []core.FeedbackRequest{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.requestKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]core.FeedbackRequest, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var req core.FeedbackRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			slog.Warn("Failed to unmarshal feedback request", "error", err)
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

// Complete claims the id with LREM; only the caller that removed it from the
// pending list writes the result.
func (s *Store) Complete(ctx context.Context, id, feedbackText string, at time.Time) (core.FeedbackResult, error) {
	removed, err := s.client.LRem(ctx, s.pendingKey(), 1, id).Result()
	if err != nil {
		return core.FeedbackResult{}, err
	}
	if removed == 0 {
		return core.FeedbackResult{}, core.ErrNotFound
	}

	req, found, err := s.getRequest(ctx, id)
	if err != nil {
		return core.FeedbackResult{}, err
	}
	if !found {
		return core.FeedbackResult{}, core.ErrNotFound
	}

	result := req.Resolve(feedbackText, at)
	data, err := json.Marshal(result)
	if err != nil {
		return core.FeedbackResult{}, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.resultKey(id), data, s.limits.ResultTTL)
	pipe.Del(ctx, s.requestKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return core.FeedbackResult{}, err
	}
	return result, nil
}

func (s *Store) Take(ctx context.Context, id string) (core.FeedbackResult, error) {
	data, err := s.client.GetDel(ctx, s.resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.FeedbackResult{}, core.ErrNotFound
	}
	if err != nil {
		return core.FeedbackResult{}, err
	}

	var result core.FeedbackResult
	if err := json.Unmarshal(data, &result); err != nil {
		return core.FeedbackResult{}, fmt.Errorf("decode result %s: %w", id, err)
	}
	return result, nil
}

// Len reports live entries only. Pending ids left behind by an expired
// request stay out of the count until CleanExpired drops them.
func (s *Store) Len(ctx context.Context) (feedback.Stats, error) {
	var (
		pending int64
		err     error
	)
	if s.limits.PendingTTL > 0 {
		pending, err = livePendingScript.Run(ctx, s.client, []string{s.pendingKey()}, s.requestKey("")).Int64()
	} else {
		pending, err = s.client.LLen(ctx, s.pendingKey()).Result()
	}
	if err != nil {
		return feedback.Stats{}, err
	}

	var completed int64
	iter := s.client.Scan(ctx, 0, s.resultKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		completed++
	}
	if err := iter.Err(); err != nil {
		return feedback.Stats{}, err
	}

	return feedback.Stats{Pending: pending, Completed: completed}, nil
}

// CleanExpired removes pending ids whose request key has expired. Results
// expire on their own through the key TTL.
func (s *Store) CleanExpired(ctx context.Context) (int, error) {
	if s.limits.PendingTTL <= 0 {
		return 0, nil
	}

	ids, err := s.client.LRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.requestKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	removed := 0
	for i, cmd := range exists {
		if cmd.Val() > 0 {
			continue
		}
		n, err := s.client.LRem(ctx, s.pendingKey(), 1, ids[i]).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *Store) getRequest(ctx context.Context, id string) (core.FeedbackRequest, bool, error) {
	data, err := s.client.Get(ctx, s.requestKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.FeedbackRequest{}, false, nil
	}
	if err != nil {
		return core.FeedbackRequest{}, false, err
	}
	var req core.FeedbackRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return core.FeedbackRequest{}, false, fmt.Errorf("decode request %s: %w", id, err)
	}
	return req, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// PendingIDs returns the raw pending list, including ids whose request expired.
func (s *Store) PendingIDs(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, s.pendingKey(), 0, -1).Result()
}

var _ feedback.Store = (*Store)(nil)
