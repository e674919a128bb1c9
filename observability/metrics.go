package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	inflight   prometheus.Gauge
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics
)

// API returns the lazily registered HTTP API metrics.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "licensestake",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by method, route pattern and status class.",
			}, []string{"method", "route", "class"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "licensestake",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "API handler latency by route pattern.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"route"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "licensestake",
				Subsystem: "api",
				Name:      "rejections_total",
				Help:      "Requests refused before reaching a handler, by stage and reason.",
			}, []string{"stage", "reason"}),
			inflight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "licensestake",
				Subsystem: "api",
				Name:      "inflight_requests",
				Help:      "Requests currently being served.",
			}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.latency,
			apiRegistry.rejections,
			apiRegistry.inflight,
		)
	})
	return apiRegistry
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ObserveRequest records a served request. route should be the router
// pattern, not the raw path, to keep label cardinality bounded.
func (m *apiMetrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordRejection counts a request refused by auth or rate limiting.
func (m *apiMetrics) RecordRejection(stage, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(stage, reason).Inc()
}

// Track marks a request in flight until the returned func is called.
func (m *apiMetrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}
