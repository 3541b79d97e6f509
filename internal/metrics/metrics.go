// Package metrics exposes Prometheus collectors for the lead harvester.
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
	fetchPagesTotal               *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	probeTLSHandshakeTimeoutTotal prometheus.Counter
	businessesDiscoveredTotal     prometheus.Counter
	observationsTotal             *prometheus.CounterVec
	observationsRejectedTotal     prometheus.Counter
	contactsWrittenTotal          *prometheus.CounterVec
	contactInsertConflictsTotal   prometheus.Counter
	llmRequestsTotal              *prometheus.CounterVec
	cacheLookupsTotal             *prometheus.CounterVec
	harvestsTotal                 *prometheus.CounterVec
	activeWorkers                 prometheus.Gauge
	rateLimitDelaysSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		probeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		businessesDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_businesses_discovered_total",
				Help: "Total number of businesses returned by the maps search.",
			},
		)

		observationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_observations_total",
				Help: "Total contact observations extracted, labeled by source kind.",
			},
			[]string{"source_type"},
		)

		observationsRejectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_observations_rejected_total",
				Help: "Total contact observations rejected by validation.",
			},
		)

		contactsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_contacts_written_total",
				Help: "Total contact rows written, labeled by operation (insert, update) and outcome.",
			},
			[]string{"op", "outcome"},
		)

		contactInsertConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_contact_insert_conflicts_total",
				Help: "Inserts that hit the identity unique constraint and were retried as updates.",
			},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_llm_requests_total",
				Help: "Total LLM extraction requests, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_cache_lookups_total",
				Help: "Page cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
		)

		harvestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_harvests_total",
				Help: "Total number of harvests processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadharvest_active_workers",
				Help: "Number of workers currently processing a harvest.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadharvest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveFetch increments the page fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	probeTLSHandshakeTimeoutTotal.Inc()
}

// ObserveBusinesses adds n to the discovered businesses counter.
func ObserveBusinesses(n int) {
	businessesDiscoveredTotal.Add(float64(n))
}

// ObserveObservations counts extracted observations for a source kind.
func ObserveObservations(sourceKind string, n int) {
	observationsTotal.WithLabelValues(sourceKind).Add(float64(n))
}

// ObserveRejected counts observations rejected by validation.
func ObserveRejected(n int) {
	observationsRejectedTotal.Add(float64(n))
}

// ObserveContactWrite counts one contact insert or update.
func ObserveContactWrite(op, outcome string) {
	contactsWrittenTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveInsertConflict counts an insert retried as an update.
func ObserveInsertConflict() {
	contactInsertConflictsTotal.Inc()
}

// ObserveLLMRequest counts an LLM call by kind ("people", "businesses") and outcome.
func ObserveLLMRequest(kind, outcome string) {
	llmRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveCacheLookup counts a page cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHarvest increments the harvest counter for the given status.
func ObserveHarvest(status string) {
	harvestsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
