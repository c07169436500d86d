// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks conversation turns by role.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Total conversation turns",
		},
		[]string{"tenant_id", "role"},
	)

	// TurnsByCategory tracks finalized assistant turns by category.
	TurnsByCategory = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_by_category_total",
			Help: "Finalized assistant turns by classifier category",
		},
		[]string{"category"},
	)

	// StreamDuration tracks completion streaming duration.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_stream_duration_seconds",
			Help:    "Completion streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// TokensTotal tracks completion tokens processed.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_tokens_total",
			Help: "Total completion tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ExtractionsTotal tracks structured extraction attempts by outcome.
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Structured extraction attempts",
		},
		[]string{"kind", "outcome"},
	)

	// ContactSavesTotal tracks CRM contact save attempts.
	ContactSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_saves_total",
			Help: "CRM contact save attempts",
		},
		[]string{"status"},
	)

	// DocumentExportsTotal tracks document export requests by format.
	DocumentExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_exports_total",
			Help: "Document export requests",
		},
		[]string{"format", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"tenant_id"},
	)

	// StoreWriteFailures tracks swallowed conversation-store write failures.
	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_write_failures_total",
			Help: "Conversation store write failures (non-fatal)",
		},
		[]string{"operation"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records metrics for a completion streaming response.
func RecordStream(model, status string, duration float64, tokensIn, tokensOut int) {
	StreamDuration.WithLabelValues(model, status).Observe(duration)
	TokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	TokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordExtraction records a structured extraction attempt.
func RecordExtraction(kind string, ok bool) {
	outcome := "none"
	if ok {
		outcome = "hit"
	}
	ExtractionsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
