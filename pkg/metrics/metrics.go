// Package metrics defines the Prometheus collectors used by the search
// bridge and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Interception outcomes recorded in InterceptionsTotal.
const (
	OutcomeIntercepted = "intercepted"
	OutcomeZeroResult  = "zero_result"
	OutcomeFallback    = "fallback"
	OutcomeSkipped     = "skipped"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	InterceptionsTotal   *prometheus.CounterVec
	DaemonLatency        *prometheus.HistogramVec
	DaemonMatches        prometheus.Histogram
	ReconciledDropped    prometheus.Counter
	ReconcileErrorsTotal prometheus.Counter
	SettingsTestsTotal   *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. A nil reg uses
// the process-wide default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		InterceptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_interceptions_total",
				Help: "Search requests by interception outcome (intercepted, zero_result, fallback, skipped).",
			},
			[]string{"outcome"},
		),
		DaemonLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_daemon_latency_seconds",
				Help:    "Latency of search daemon queries in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
			},
			[]string{"engine", "status"},
		),
		DaemonMatches: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_daemon_total_matches",
				Help:    "Authoritative total match count reported by the daemon.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		ReconciledDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_reconcile_dropped_total",
				Help: "Daemon-ranked IDs with no matching record in the store.",
			},
		),
		ReconcileErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_reconcile_errors_total",
				Help: "Requests whose reconciliation metadata was inconsistent.",
			},
		),
		SettingsTestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_settings_tests_total",
				Help: "Admin settings validation searches by result (ok, error).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.InterceptionsTotal,
		m.DaemonLatency,
		m.DaemonMatches,
		m.ReconciledDropped,
		m.ReconcileErrorsTotal,
		m.SettingsTestsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for g. A nil g serves
// the process-wide default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
