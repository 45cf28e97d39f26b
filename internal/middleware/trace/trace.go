package trace

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"feedbackd/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// HeaderRequestID carries the request id in and out of the service.
	HeaderRequestID = "X-Request-ID"
)

// Middleware assigns a request id, attaches a request-scoped logger to the
// context and logs start and completion of every request.
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.Logger
	metrics   *Metrics
}

// Metrics tracks request metrics
type Metrics struct {
	TotalRequests     int64
	TotalDurationMs   int64
	ServerErrorsTotal int64
}

func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Middleware{
		extractIP: extractIP,
		logger:    logger.WithComponent(log.ComponentHTTP),
		metrics:   &Metrics{},
	}
}

// Middleware returns HTTP middleware for request tracing. The request id is
// stored in the context before log.RequestMiddleware builds the request
// logger from it.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	logged := log.RequestMiddleware(m.logger, func(r *http.Request) string {
		return GetRequestID(r.Context())
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.observe(w, r, next)
	}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r)
		w.Header().Set(HeaderRequestID, requestID)
		logged.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, requestID)))
	})
}

// observe runs next, logging and counting the request.
func (m *Middleware) observe(w http.ResponseWriter, r *http.Request, next http.Handler) {
	start := time.Now()
	ctx := r.Context()

	clientIP := ""
	if m.extractIP != nil {
		clientIP = m.extractIP(r)
	}

	sl := log.NewStructuredLogger(log.FromContext(ctx))
	sl.LogHTTPStart(ctx, r, clientIP)
	atomic.AddInt64(&m.metrics.TotalRequests, 1)

	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	next.ServeHTTP(rw, r)

	durationMs := time.Since(start).Milliseconds()
	atomic.AddInt64(&m.metrics.TotalDurationMs, durationMs)
	if rw.statusCode >= 500 {
		atomic.AddInt64(&m.metrics.ServerErrorsTotal, 1)
	}
	sl.LogHTTPEnd(ctx, r, rw.statusCode, durationMs, clientIP)
}

// requestIDFrom reuses a caller supplied id when it is a valid UUID.
func requestIDFrom(r *http.Request) string {
	if v := r.Header.Get(HeaderRequestID); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetMetrics returns current metrics
func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:     atomic.LoadInt64(&m.metrics.TotalRequests),
		TotalDurationMs:   atomic.LoadInt64(&m.metrics.TotalDurationMs),
		ServerErrorsTotal: atomic.LoadInt64(&m.metrics.ServerErrorsTotal),
	}
}
