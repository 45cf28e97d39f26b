package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"
	"feedbackd/internal/log"
	"feedbackd/internal/metrics"
	"feedbackd/internal/middleware/ratelimit"
	"feedbackd/internal/middleware/security"
	"feedbackd/internal/middleware/trace"
)

// FeedbackQueue is the queue surface served over HTTP.
type FeedbackQueue interface {
	Enqueue(ctx context.Context, merchant string, charge decimal.Decimal) (string, error)
	PeekOldestPending(ctx context.Context) (core.FeedbackRequest, bool, error)
	ListPending(ctx context.Context, limit int) ([]core.FeedbackRequest, feedback.Stats, error)
	Resolve(ctx context.Context, id, feedback string) error
	FetchResult(ctx context.Context, id string) (core.FeedbackResult, error)
	Ping(ctx context.Context) error
}

// HistoryReader lists archived answers, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]core.ArchivedFeedback, error)
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	queue   FeedbackQueue
	history HistoryReader
	metrics http.Handler
	logger  *log.Logger

	rateLimit       ratelimit.Config
	rateLimiter     *ratelimit.Limiter
	detector        *security.Detector
	traceMiddleware *trace.Middleware

	startedAt    time.Time
	shutdownOnce sync.Once
}

type Option func(*Server)

// WithHistory enables the feedback-history endpoint and the archive
// readiness check.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithRateLimit(cfg ratelimit.Config) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, q FeedbackQueue, opts ...Option) *Server {
	s := &Server{
		queue:     q,
		logger:    log.New(log.DefaultConfig()),
		rateLimit: ratelimit.DefaultConfig(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentHTTP)

	s.detector = security.NewDetector(s.logger)
	s.traceMiddleware = trace.NewMiddleware(s.logger, s.detector.ExtractClientIP)
	s.rateLimiter = ratelimit.NewLimiter(s.rateLimit)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited)

	api := http.NewServeMux()
	api.HandleFunc("/api/transactions/request-feedback", s.handleRequestFeedback)
	api.HandleFunc("/api/transactions/pending-feedback", s.handlePendingFeedback)
	api.HandleFunc("/api/transactions/submit-feedback", s.handleSubmitFeedback)
	api.HandleFunc("/api/transactions/get-feedback-result", s.handleGetFeedbackResult)
	api.HandleFunc("/api/transactions/feedback-queue", s.handleFeedbackQueue)
	api.HandleFunc("/api/transactions/feedback-history", s.handleFeedbackHistory)
	api.HandleFunc("/api/transactions/feedback-categories", s.handleFeedbackCategories)
	api.HandleFunc("/", s.handleNotFound)

	mux := http.NewServeMux()
	mux.Handle("/api/", limit(api))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/", s.handleNotFound)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.traceMiddleware.Middleware(s.detector.Middleware(headers.Middleware(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPStats snapshots the middleware counters for the metrics registry.
func (s *Server) HTTPStats() metrics.HTTPStats {
	t := s.traceMiddleware.GetMetrics()
	d := s.detector.GetMetrics()
	return metrics.HTTPStats{
		Requests:          t.TotalRequests,
		DurationMs:        t.TotalDurationMs,
		ServerErrors:      t.ServerErrorsTotal,
		RateLimited:       s.rateLimiter.GetMetrics().TotalHits,
		Suspicious:        d.SuspiciousRequests,
		InvalidIPAttempts: d.InvalidIPAttempts,
	}
}

// Shutdown gracefully shuts down the server. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.InfoContext(ctx, "Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
