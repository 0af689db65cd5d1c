// Package metrics exposes Prometheus collectors for the harvester.
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
	documentFetchesTotal       *prometheus.CounterVec
	documentBytesTotal         prometheus.Counter
	documentFetchDuration      *prometheus.HistogramVec
	documentFetchAttempts      prometheus.Histogram
	documentRetriesTotal       *prometheus.CounterVec
	pageVisitsTotal            *prometheus.CounterVec
	workItemsTotal             *prometheus.CounterVec
	workItemDurationSeconds    *prometheus.HistogramVec
	workItemsInFlight          prometheus.Gauge
	browserOpensTotal          *prometheus.CounterVec
	planItems                  *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	checkpointFlushesTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_document_fetches_total",
				Help: "Document downloads, labeled by outcome (success or failure reason).",
			},
			[]string{"outcome"},
		)

		documentBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docharvest_document_bytes_total",
				Help: "Total bytes of document artifacts saved.",
			},
		)

		documentFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docharvest_document_fetch_duration_seconds",
				Help:    "Wall time of a document fetch including retries.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		)

		documentFetchAttempts = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docharvest_document_fetch_attempts",
				Help:    "Attempts used per document fetch.",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		)

		documentRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_document_retries_total",
				Help: "Document fetch retries, labeled by the transient reason.",
			},
			[]string{"reason"},
		)

		pageVisitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_page_visits_total",
				Help: "Pages rendered during navigation, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		workItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_work_items_total",
				Help: "Processed work items, labeled by status class and extraction method.",
			},
			[]string{"status", "method"},
		)

		workItemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docharvest_work_item_duration_seconds",
				Help:    "Processing time per work item.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"method"},
		)

		workItemsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docharvest_work_items_in_flight",
				Help: "Number of work items currently being processed.",
			},
		)

		browserOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_browser_opens_total",
				Help: "Browser instances opened, labeled by engine and outcome.",
			},
			[]string{"engine", "outcome"},
		)

		planItems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docharvest_plan_items",
				Help: "Size of the current run plan, labeled by set (work, carried, skipped).",
			},
			[]string{"set"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docharvest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_http_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docharvest_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_checkpoint_flushes_total",
				Help: "Output table writes, labeled by outcome.",
			},
			[]string{"outcome"},
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
	Init()
	return promhttp.Handler()
}

// ObserveDocumentFetch records one finished document fetch.
func ObserveDocumentFetch(outcome string, attempts int, bytes int64, duration time.Duration) {
	Init()
	documentFetchesTotal.WithLabelValues(outcome).Inc()
	documentFetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if attempts > 0 {
		documentFetchAttempts.Observe(float64(attempts))
	}
	if outcome == "success" && bytes > 0 {
		documentBytesTotal.Add(float64(bytes))
	}
}

// ObserveFetchRetry counts a retry scheduled after a transient failure.
func ObserveFetchRetry(reason string) {
	Init()
	documentRetriesTotal.WithLabelValues(reason).Inc()
}

// ObservePageVisit counts a rendered navigation node.
func ObservePageVisit(outcome string) {
	Init()
	pageVisitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWorkItem records a finished work item.
func ObserveWorkItem(status, method string, duration time.Duration) {
	Init()
	workItemsTotal.WithLabelValues(status, method).Inc()
	workItemDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// IncInFlight increments the in-flight work item gauge.
func IncInFlight() {
	Init()
	workItemsInFlight.Inc()
}

// DecInFlight decrements the in-flight work item gauge.
func DecInFlight() {
	Init()
	workItemsInFlight.Dec()
}

// ObserveBrowserOpen counts a browser instance creation attempt.
func ObserveBrowserOpen(engine, outcome string) {
	Init()
	browserOpensTotal.WithLabelValues(engine, outcome).Inc()
}

// SetPlan publishes the size of the run plan.
func SetPlan(work, carried, skipped int) {
	Init()
	planItems.WithLabelValues("work").Set(float64(work))
	planItems.WithLabelValues("carried").Set(float64(carried))
	planItems.WithLabelValues("skipped").Set(float64(skipped))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCheckpointFlush counts an output table write.
func ObserveCheckpointFlush(outcome string) {
	Init()
	checkpointFlushesTotal.WithLabelValues(outcome).Inc()
}
