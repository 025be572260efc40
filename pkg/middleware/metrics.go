// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, CORS, per-client rate limits and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
)

// routeLabels are the path prefixes reported as their own label. Anything
// else is reported as "other" so scanners cannot grow the label set.
var routeLabels = []struct {
	prefix string
	exact  bool
	label  string
}{
	{prefix: "/search", exact: true, label: "/search"},
	{prefix: "/admin/", label: "/admin"},
	{prefix: "/health/", label: "/health"},
}

func routeLabel(path string) string {
	for _, r := range routeLabels {
		if path == r.prefix || (!r.exact && strings.HasPrefix(path, r.prefix)) {
			return r.label
		}
	}
	return "other"
}

// Metrics counts and times each request by method, route label and status.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

// statusRecorder keeps the first status sent downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// code is 200 for a handler that never wrote anything.
func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
