// Package metrics exposes the process-wide Prometheus collectors.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFetchTotal           *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	activeWorkers              *prometheus.GaugeVec
	headlessRendersTotal       *prometheus.CounterVec
	reconcileEventsTotal       *prometheus.CounterVec
	exportRowsTotal            prometheus.Counter

	once sync.Once
)

// Init registers the collectors with the default registry. Repeated calls are no-ops.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		robotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquirer_robots_fetch_total",
				Help: "robots.txt lookups, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acquirer_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host slot.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "acquirer_active_workers",
				Help: "Items currently being handled, labeled by phase.",
			},
			[]string{"phase"},
		)

		headlessRendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquirer_headless_renders_total",
				Help: "Headless page renders, labeled by result.",
			},
			[]string{"result"},
		)

		reconcileEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquirer_reconcile_events_total",
				Help: "Events folded into the registry, labeled by phase and disposition.",
			},
			[]string{"phase", "disposition"},
		)

		exportRowsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "acquirer_export_rows_total",
				Help: "Registry rows upserted into Postgres.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one status API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFetch counts a robots.txt lookup.
func ObserveRobotsFetch(result string) {
	Init()
	robotsFetchTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records a wait for a per-host slot.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// IncActiveWorkers marks an item as in flight.
func IncActiveWorkers(phase string) {
	Init()
	activeWorkers.WithLabelValues(phase).Inc()
}

// DecActiveWorkers marks an item as finished.
func DecActiveWorkers(phase string) {
	Init()
	activeWorkers.WithLabelValues(phase).Dec()
}

// ObserveHeadlessRender counts a browser render.
func ObserveHeadlessRender(result string) {
	Init()
	headlessRendersTotal.WithLabelValues(result).Inc()
}

// ObserveReconcile adds n events with the given disposition.
func ObserveReconcile(phase, disposition string, n int) {
	if n <= 0 {
		return
	}
	Init()
	reconcileEventsTotal.WithLabelValues(phase, disposition).Add(float64(n))
}

// ObserveExport adds n exported rows.
func ObserveExport(n int) {
	Init()
	exportRowsTotal.Add(float64(n))
}
