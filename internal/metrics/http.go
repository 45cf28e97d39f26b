package metrics

import "github.com/prometheus/client_golang/prometheus"

// HTTPStats is a snapshot of the middleware counters.
type HTTPStats struct {
	Requests          int64
	DurationMs        int64
	ServerErrors      int64
	RateLimited       int64
	Suspicious        int64
	InvalidIPAttempts int64
}

// HTTPStatsSource is implemented by the HTTP server.
type HTTPStatsSource interface {
	HTTPStats() HTTPStats
}

// RegisterHTTP exports the server's middleware counters. They are read at
// scrape time, so the middleware keeps its own atomics.
func (m *Metrics) RegisterHTTP(src HTTPStatsSource) {
	m.registry.MustRegister(newHTTPCollector(src))
}

type httpCollector struct {
	src          HTTPStatsSource
	requests     *prometheus.Desc
	duration     *prometheus.Desc
	serverErrors *prometheus.Desc
	rateLimited  *prometheus.Desc
	suspicious   *prometheus.Desc
	invalidIP    *prometheus.Desc
}

func newHTTPCollector(src HTTPStatsSource) *httpCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "http", name), help, nil, nil)
	}
	return &httpCollector{
		src:          src,
		requests:     desc("requests_total", "HTTP requests served."),
		duration:     desc("request_duration_milliseconds_total", "Summed handling time of all requests."),
		serverErrors: desc("server_errors_total", "Responses with a 5xx status."),
		rateLimited:  desc("rate_limited_total", "Requests rejected by the rate limiter."),
		suspicious:   desc("suspicious_requests_total", "Requests flagged by the security detector."),
		invalidIP:    desc("invalid_ip_total", "Forwarded client addresses that failed to parse."),
	}
}

func (c *httpCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.duration
	ch <- c.serverErrors
	ch <- c.rateLimited
	ch <- c.suspicious
	ch <- c.invalidIP
}

func (c *httpCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.HTTPStats()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.requests, s.Requests)
	counter(c.duration, s.DurationMs)
	counter(c.serverErrors, s.ServerErrors)
	counter(c.rateLimited, s.RateLimited)
	counter(c.suspicious, s.Suspicious)
	counter(c.invalidIP, s.InvalidIPAttempts)
}
