// Package metrics exposes Prometheus collectors for the ingestion crawler.
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
	recordsTotal               *prometheus.CounterVec
	flushesTotal               *prometheus.CounterVec
	flushedDocumentsTotal      *prometheus.CounterVec
	bufferedDocuments          *prometheus.GaugeVec
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchFailuresTotal         *prometheus.CounterVec
	fetchReissuesTotal         *prometheus.CounterVec
	resumeSkipsTotal           *prometheus.CounterVec
	throttleDelaySeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Records seen by the pipeline, labeled by collection and outcome.",
			},
			[]string{"collection", "outcome"},
		)

		flushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_flushes_total",
				Help: "Batch flushes, labeled by collection and result.",
			},
			[]string{"collection", "result"},
		)

		flushedDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_flushed_documents_total",
				Help: "Documents inserted by successful flushes, labeled by collection.",
			},
			[]string{"collection"},
		)

		bufferedDocuments = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_buffered_documents",
				Help: "Documents waiting in a collection buffer.",
			},
			[]string{"collection"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Completed fetches, labeled by family, kind and status code.",
			},
			[]string{"family", "kind", "code"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_failures_total",
				Help: "Failed fetches, labeled by family and failure class.",
			},
			[]string{"family", "class"},
		)

		fetchReissuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_reissues_total",
				Help: "Requests reissued after a failure, labeled by family.",
			},
			[]string{"family"},
		)

		resumeSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_resume_skips_total",
				Help: "Detail fetches skipped because the entity is already stored, labeled by collection.",
			},
			[]string{"collection"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveRecord counts a record outcome (buffered, duplicate, malformed, unknown).
func ObserveRecord(collection, outcome string) {
	Init()
	recordsTotal.WithLabelValues(collection, outcome).Inc()
}

// ObserveFlush counts a flush attempt and, on success, the inserted documents.
func ObserveFlush(collection string, inserted int, err error) {
	Init()
	if err != nil {
		flushesTotal.WithLabelValues(collection, "error").Inc()
		return
	}
	flushesTotal.WithLabelValues(collection, "success").Inc()
	flushedDocumentsTotal.WithLabelValues(collection).Add(float64(inserted))
}

// SetBuffered records the current buffer length of a collection.
func SetBuffered(collection string, n int) {
	Init()
	bufferedDocuments.WithLabelValues(collection).Set(float64(n))
}

// ObserveFetch counts a completed fetch.
func ObserveFetch(rawURL, family, kind string, code, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(family, kind, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveFetchFailure counts a failed fetch by class.
func ObserveFetchFailure(family, class string) {
	Init()
	fetchFailuresTotal.WithLabelValues(family, class).Inc()
}

// ObserveReissue counts a reissued request.
func ObserveReissue(family string) {
	Init()
	fetchReissuesTotal.WithLabelValues(family).Inc()
}

// ObserveResumeSkip counts a detail fetch avoided by the resumption check.
func ObserveResumeSkip(collection string) {
	Init()
	resumeSkipsTotal.WithLabelValues(collection).Inc()
}

// ObserveThrottleDelay records how long a request waited for its domain limiter.
func ObserveThrottleDelay(domain string, d time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
