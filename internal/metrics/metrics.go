package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedbackd/internal/feedback"
	"feedbackd/internal/log"
)

const namespace = "feedback"

// StatsSource reports container sizes at scrape time.
type StatsSource interface {
	Stats(ctx context.Context) (feedback.Stats, error)
}

// StatsFunc adapts a function, such as a store's Len, to StatsSource.
type StatsFunc func(ctx context.Context) (feedback.Stats, error)

func (f StatsFunc) Stats(ctx context.Context) (feedback.Stats, error) { return f(ctx) }

// Metrics holds the queue counters and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	enqueued prometheus.Counter
	resolved prometheus.Counter
	fetched  prometheus.Counter
	notFound *prometheus.CounterVec
	expired  prometheus.Counter
}

var _ feedback.Observer = (*Metrics)(nil)

// New registers the queue metrics on a fresh registry. When src is not nil
// the pending and completed gauges are read from it on every scrape.
func New(src StatsSource, logger *log.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Feedback requests accepted into the pending queue.",
		}),
		resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolved_total",
			Help:      "Pending requests answered by a reviewer.",
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_total",
			Help:      "Completed results delivered to the submitter.",
		}),
		notFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "not_found_total",
			Help:      "Resolve or fetch calls for an id that was not there.",
		}, []string{"op"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Requests and results evicted by TTL.",
		}),
	}

	m.registry.MustRegister(
		m.enqueued, m.resolved, m.fetched, m.notFound, m.expired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		m.registry.MustRegister(newQueueCollector(src, logger))
	}
	return m
}

func (m *Metrics) Enqueued()          { m.enqueued.Inc() }
func (m *Metrics) Resolved()          { m.resolved.Inc() }
func (m *Metrics) Fetched()           { m.fetched.Inc() }
func (m *Metrics) NotFound(op string) { m.notFound.WithLabelValues(op).Inc() }
func (m *Metrics) Expired(n int) {
	if n > 0 {
		m.expired.Add(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// queueCollector reads the store sizes when scraped.
type queueCollector struct {
	src       StatsSource
	logger    *log.Logger
	pending   *prometheus.Desc
	completed *prometheus.Desc
}

func newQueueCollector(src StatsSource, logger *log.Logger) *queueCollector {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &queueCollector{
		src:    src,
		logger: logger.WithComponent(log.ComponentQueue),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pending"),
			"Requests waiting for a reviewer.", nil, nil),
		completed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "completed"),
			"Results waiting to be fetched.", nil, nil),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.completed
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := c.src.Stats(ctx)
	if err != nil {
		c.logger.Warn("Failed to read queue stats", log.FieldError, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.Pending))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.GaugeValue, float64(stats.Completed))
}
