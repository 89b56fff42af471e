// Package metrics exposes Prometheus collectors for the harvester.
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

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeCached  = "cached"
	OutcomeSkipped = "skipped"
	OutcomeEmpty   = "empty"
	OutcomeLocal   = "already_local"
)

var (
	fetchRequestsTotal         *prometheus.CounterVec
	fetchRetriesTotal          prometheus.Counter
	listingPagesTotal          *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	filesSyncedTotal           *prometheus.CounterVec
	downloadedBytesTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_requests_total",
				Help: "Total number of outbound fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_fetch_retries_total",
				Help: "Total number of fetch attempts that were retried.",
			},
		)

		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_listing_pages_total",
				Help: "Total number of listing pages handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_documents_total",
				Help: "Total number of documents handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		filesSyncedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_files_synced_total",
				Help: "Total number of file sync attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		downloadedBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_downloaded_bytes_total",
				Help: "Total number of bytes written to local storage by the sync manager.",
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound fetch.
func ObserveFetch(outcome string) {
	Init()
	fetchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry records one retried fetch attempt.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveListingPage records how a listing page was handled.
func ObserveListingPage(outcome string) {
	Init()
	listingPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDocument records how a document was handled.
func ObserveDocument(outcome string) {
	Init()
	documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSync records one sync attempt and the bytes it wrote.
func ObserveSync(outcome string, bytesWritten int64) {
	Init()
	filesSyncedTotal.WithLabelValues(outcome).Inc()
	if bytesWritten > 0 {
		downloadedBytesTotal.Add(float64(bytesWritten))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
