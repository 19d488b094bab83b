// Package metrics exposes Prometheus collectors for the conversion service.
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
	itemsTotal                 *prometheus.CounterVec
	itemDurationSeconds        *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         prometheus.Histogram
	activeItems                prometheus.Gauge
	webhookDeliveriesTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markvault_items_total",
				Help: "Total number of work items processed, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "markvault_item_duration_seconds",
				Help:    "Histogram of per-item processing latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markvault_jobs_total",
				Help: "Total number of jobs finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "markvault_job_duration_seconds",
				Help:    "Histogram of end-to-end job latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		)

		activeItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "markvault_active_items",
				Help: "Number of items currently processing.",
			},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markvault_webhook_deliveries_total",
				Help: "Total webhook delivery attempts, labeled by result.",
			},
			[]string{"result"},
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

// ObserveItem records one finished work item. A no-op before Init.
func ObserveItem(site, status string, duration time.Duration) {
	if itemsTotal == nil {
		return
	}
	sanitized := SanitizeSite(site)
	itemsTotal.WithLabelValues(sanitized, status).Inc()
	itemDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
}

// ObserveJob records one finished job. A no-op before Init.
func ObserveJob(outcome string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDurationSeconds.Observe(duration.Seconds())
}

// IncActiveItems increments the in-flight item gauge.
func IncActiveItems() {
	if activeItems != nil {
		activeItems.Inc()
	}
}

// DecActiveItems decrements the in-flight item gauge.
func DecActiveItems() {
	if activeItems != nil {
		activeItems.Dec()
	}
}

// ObserveWebhook records one webhook delivery attempt result.
func ObserveWebhook(result string) {
	if webhookDeliveriesTotal != nil {
		webhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics. A no-op before Init.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
