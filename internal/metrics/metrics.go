// Package metrics exposes Prometheus collectors for the directory service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	businessesUpsertedTotal    *prometheus.CounterVec
	ingestCategoriesTotal      *prometheus.CounterVec
	ingestActiveBatch          prometheus.Gauge
	mediaCachedTotal           prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
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

		businessesUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directory_businesses_upserted_total",
				Help: "Total number of business upserts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestCategoriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directory_ingest_categories_total",
				Help: "Total number of category fetches, labeled by status.",
			},
			[]string{"status"},
		)

		ingestActiveBatch = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "directory_ingest_active_batch",
				Help: "Batch number of the ingestion run in progress, 0 when idle.",
			},
		)

		mediaCachedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "directory_media_cached_total",
				Help: "Total number of logo and photo assets cached.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the collected metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// BusinessUpserted increments the upsert counter for the given outcome.
func BusinessUpserted(outcome string) {
	if businessesUpsertedTotal == nil {
		return
	}
	businessesUpsertedTotal.WithLabelValues(outcome).Inc()
}

// IngestCategory increments the category counter for the given status.
func IngestCategory(status string) {
	if ingestCategoriesTotal == nil {
		return
	}
	ingestCategoriesTotal.WithLabelValues(status).Inc()
}

// SetActiveBatch records the batch number currently running, 0 when idle.
func SetActiveBatch(batch int) {
	if ingestActiveBatch == nil {
		return
	}
	ingestActiveBatch.Set(float64(batch))
}

// MediaCached adds to the cached asset counter.
func MediaCached(n int) {
	if mediaCachedTotal == nil || n <= 0 {
		return
	}
	mediaCachedTotal.Add(float64(n))
}
