package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration measures HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// WorkflowsTotal counts agent workflows by terminal status.
	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_workflows_total",
			Help: "Total number of agent workflows by terminal status",
		},
		[]string{"agent_type", "status"},
	)

	// ActiveStreams tracks currently registered event streams.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streaming_active_streams",
			Help: "Number of active workflow event streams",
		},
	)

	// StreamEventsTotal counts emitted stream events by type and outcome.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streaming_events_total",
			Help: "Stream events by type and outcome (emitted or dropped)",
		},
		[]string{"event_type", "outcome"},
	)

	// ToolExecutionDuration measures agent tool execution time.
	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_tool_execution_seconds",
			Help:    "Agent tool execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	// BackendRequestErrors counts failed calls to the case-management backend.
	BackendRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_request_errors_total",
			Help: "Failed requests to the case-management backend",
		},
		[]string{"operation"},
	)

	// LLMTokensTotal counts reported LLM token usage.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "LLM token usage as reported by the provider",
		},
		[]string{"model", "direction"},
	)
)
