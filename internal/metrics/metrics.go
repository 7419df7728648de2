// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	auditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteaudit_audits_total",
			Help: "Total number of audits run, labeled by mode and status.",
		},
		[]string{"mode", "status"},
	)

	auditDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siteaudit_audit_duration_seconds",
			Help:    "Histogram of audit wall-clock durations, labeled by mode.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"mode"},
	)

	probeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siteaudit_probe_duration_seconds",
			Help:    "Histogram of probe durations, labeled by probe and status.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"probe", "status"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteaudit_cache_lookups_total",
			Help: "Total number of cache lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteaudit_cache_evictions_total",
			Help: "Total number of expired cache entries removed.",
		},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteaudit_rate_limited_total",
			Help: "Total number of requests denied by a rate limiter, labeled by limiter.",
		},
		[]string{"limiter"},
	)

	outboundWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siteaudit_outbound_wait_seconds",
			Help:    "Histogram of politeness waits before probing a host.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteaudit_emails_total",
			Help: "Total number of report emails, labeled by status.",
		},
		[]string{"status"},
	)

	pdfTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteaudit_pdf_total",
			Help: "Total number of PDF renders, labeled by status.",
		},
		[]string{"status"},
	)

	dependencyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteaudit_dependency_errors_total",
			Help: "Swallowed failures of cache, persistence and publishing dependencies.",
		},
		[]string{"dependency"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAudit records one finished audit.
func ObserveAudit(mode, status string, duration time.Duration) {
	auditsTotal.WithLabelValues(mode, status).Inc()
	auditDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveProbe records one probe run.
func ObserveProbe(probe, status string, duration time.Duration) {
	probeDurationSeconds.WithLabelValues(probe, status).Observe(duration.Seconds())
}

// ObserveCacheLookup increments the cache lookup counter for hit, miss or error.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheEvictions adds n expired entries to the eviction counter.
func ObserveCacheEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// ObserveRateLimited increments the denial counter for the named limiter.
func ObserveRateLimited(limiter string) {
	rateLimitedTotal.WithLabelValues(limiter).Inc()
}

// ObserveOutboundWait records the duration of a politeness wait.
func ObserveOutboundWait(host string, duration time.Duration) {
	outboundWaitSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveEmail increments the email counter for sent or failed.
func ObserveEmail(status string) {
	emailsTotal.WithLabelValues(status).Inc()
}

// ObservePDF increments the PDF counter for generated, failed or oversized.
func ObservePDF(status string) {
	pdfTotal.WithLabelValues(status).Inc()
}

// ObserveDependencyError counts a swallowed dependency failure.
func ObserveDependencyError(dependency string) {
	dependencyErrorsTotal.WithLabelValues(dependency).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
