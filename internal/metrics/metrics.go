// Package metrics exposes Prometheus collectors for the mirror service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mirrorFetchesTotal           *prometheus.CounterVec
	mirrorBytesTotal             *prometheus.CounterVec
	mirrorFetchDurationSeconds   *prometheus.HistogramVec
	mirrorInflightFetches        prometheus.Gauge
	mirrorFilesWrittenTotal      *prometheus.CounterVec
	mirrorLinksRewrittenTotal    prometheus.Counter
	mirrorRunsTotal              *prometheus.CounterVec
	mirrorActiveWorkers          prometheus.Gauge
	mirrorRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mirrorFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_fetches_total",
				Help: "Total number of fetches, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		mirrorBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_bytes_total",
				Help: "Total number of bytes fetched, labeled by kind.",
			},
			[]string{"kind"},
		)

		mirrorFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		mirrorInflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_inflight_fetches",
				Help: "Number of requests currently holding a permit.",
			},
		)

		mirrorFilesWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_files_written_total",
				Help: "Total number of files written to the output directory, labeled by kind.",
			},
			[]string{"kind"},
		)

		mirrorLinksRewrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_links_rewritten_total",
				Help: "Total number of links pointed at local copies.",
			},
		)

		mirrorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_runs_total",
				Help: "Total number of mirror runs, labeled by status.",
			},
			[]string{"status"},
		)

		mirrorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		mirrorRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one request. Bytes are only counted for successful fetches.
func ObserveFetch(kind, outcome string, bytesFetched int, duration time.Duration) {
	mirrorFetchesTotal.WithLabelValues(kind, outcome).Inc()
	if bytesFetched > 0 {
		mirrorBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
	if duration > 0 {
		mirrorFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncInflight increments the in-flight fetch gauge.
func IncInflight() {
	mirrorInflightFetches.Inc()
}

// DecInflight decrements the in-flight fetch gauge.
func DecInflight() {
	mirrorInflightFetches.Dec()
}

// ObserveFileWritten counts one file persisted to disk.
func ObserveFileWritten(kind string) {
	mirrorFilesWrittenTotal.WithLabelValues(kind).Inc()
}

// ObserveLinksRewritten adds n rewritten links.
func ObserveLinksRewritten(n int) {
	if n > 0 {
		mirrorLinksRewrittenTotal.Add(float64(n))
	}
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	mirrorRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	mirrorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	mirrorActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	mirrorRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
