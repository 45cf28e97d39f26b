package ratelimit

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
)

// Config holds rate limiter configuration
type Config struct {
	// RequestsPerSecond per client. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int
	// ClientTTL is how long an idle client's bucket is kept.
	ClientTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
		ClientTTL:         10 * time.Minute,
	}
}

// Limiter is a per-client token bucket limiter.
type Limiter struct {
	lmt     *limiter.Limiter
	enabled bool
	hits    int64
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	TotalHits int64
}

func NewLimiter(config Config) *Limiter {
	if config.RequestsPerSecond <= 0 {
		return &Limiter{}
	}
	if config.ClientTTL <= 0 {
		config.ClientTTL = DefaultConfig().ClientTTL
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	lmt := tollbooth.NewLimiter(config.RequestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: config.ClientTTL,
	})
	lmt.SetBurst(config.Burst)
	return &Limiter{lmt: lmt, enabled: true}
}

// Allow reports whether a request from key may proceed.
func (rl *Limiter) Allow(key string) bool {
	if !rl.enabled {
		return true
	}
	if httpErr := tollbooth.LimitByKeys(rl.lmt, []string{key}); httpErr != nil {
		atomic.AddInt64(&rl.hits, 1)
		return false
	}
	return true
}

// Enabled reports whether limiting is active.
func (rl *Limiter) Enabled() bool {
	return rl.enabled
}

// GetMetrics returns current rate limiting metrics
func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{TotalHits: atomic.LoadInt64(&rl.hits)}
}

// Middleware creates HTTP middleware for rate limiting. onLimit writes the
// rejection; when nil a plain 429 is sent.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !rl.enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(extractIP(r)) {
				w.Header().Set("Retry-After", "1")
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
