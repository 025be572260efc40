// Package analytics publishes one event per intercepted search request to
// Kafka. Publishing happens off the request path and drops events rather
// than block when the buffer is full.
package analytics

import "time"

// SearchEvent describes one search request after interception.
type SearchEvent struct {
	Query     string    `json:"query"`
	Engine    string    `json:"engine"`
	Outcome   string    `json:"outcome"`
	Page      int       `json:"page"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
