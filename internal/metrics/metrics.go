// Package metrics exposes Prometheus counters for the analysis pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeNoCandidates = "no_candidates"
	OutcomeRemoteError  = "remote_error"
	OutcomeCircuitOpen  = "circuit_open"
	OutcomeEmpty        = "empty"
	OutcomeError        = "error"
)

// Metrics holds the process-wide registry and collectors.
type Metrics struct {
	registry *prometheus.Registry

	gatewayAttempts *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	extractions     *prometheus.CounterVec
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	gatewayAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_attempts_total",
			Help: "Inference attempts by model and outcome.",
		},
		[]string{"model", "outcome"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_cache_lookups_total",
			Help: "Analysis cache lookups by result.",
		},
		[]string{"result"},
	)
	extractions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Document extractions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(gatewayAttempts, cacheLookups, extractions, requestTotal, requestDuration)

	return &Metrics{
		registry:        registry,
		gatewayAttempts: gatewayAttempts,
		cacheLookups:    cacheLookups,
		extractions:     extractions,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GatewayAttempt counts one inference attempt.
func (m *Metrics) GatewayAttempt(model, outcome string) {
	if m == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	m.gatewayAttempts.WithLabelValues(model, outcome).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Extraction counts one extraction of the given kind ("health" or
// "ingredients").
func (m *Metrics) Extraction(kind, outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(kind, outcome).Inc()
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
