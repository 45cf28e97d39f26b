package cache

import (
	"sync"
	"time"
)

// TTLCache holds values that expire ttl after they are set. A ttl <= 0
// never expires entries. Expired entries found by Take are dropped on the
// spot and still reported by the next CleanExpired.
type TTLCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	items   map[string]ttlItem[T]
	dropped int
}

type ttlItem[T any] struct {
	data      T
	expiresAt time.Time
}

func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]ttlItem[T]),
	}
}

// WithClock replaces the time source used for expiry.
func (c *TTLCache[T]) WithClock(now func() time.Time) *TTLCache[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (it ttlItem[T]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Set stores data under key, replacing any previous value and its expiry.
func (c *TTLCache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := ttlItem[T]{data: data}
	if c.ttl > 0 {
		it.expiresAt = c.now().Add(c.ttl)
	}
	c.items[key] = it
}

// Take retrieves and removes a value in one step.
// Of two concurrent callers for the same key only one gets ok == true.
func (c *TTLCache[T]) Take(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	it, ok := c.items[key]
	if !ok {
		return zero, false
	}
	delete(c.items, key)
	if it.expired(c.now()) {
		c.dropped++
		return zero, false
	}
	return it.data, true
}

// CleanExpired removes expired entries. The count includes entries Take
// dropped since the previous call.
func (c *TTLCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.dropped
	c.dropped = 0
	if c.ttl <= 0 {
		return removed
	}

	now := c.now()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Size counts entries that have not expired.
func (c *TTLCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return len(c.items)
	}
	now := c.now()
	n := 0
	for _, it := range c.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}
