package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datalens_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_tool_calls_total",
			Help: "Total number of analysis tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datalens_tool_call_duration_seconds",
			Help:    "Analysis tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"status"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datalens_turn_duration_seconds",
			Help:    "Conversation turn duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// LLM metrics
	llmCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_llm_completions_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"provider", "status"},
	)

	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_llm_tokens_total",
			Help: "Total number of LLM tokens used",
		},
		[]string{"provider", "kind"},
	)

	// Snapshot metrics
	snapshotOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_snapshot_operations_total",
			Help: "Total number of snapshot operations",
		},
		[]string{"operation", "status"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datalens_active_sessions",
			Help: "Number of live sessions held by the manager",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all collectors on the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			toolCallsTotal,
			toolCallDuration,
			turnsTotal,
			turnDuration,
			llmCompletionsTotal,
			llmTokensTotal,
			snapshotOpsTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordToolCall records a single tool invocation.
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTurn records a completed conversation turn.
func RecordTurn(status string, duration time.Duration) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLLMCompletion records one completion request against a provider.
func RecordLLMCompletion(provider, status string) {
	llmCompletionsTotal.WithLabelValues(provider, status).Inc()
}

// RecordLLMTokens records token usage for a completion.
func RecordLLMTokens(provider string, prompt, completion int) {
	llmTokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	llmTokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
}

// RecordSnapshotOp records a snapshot create, restore, list or delete.
func RecordSnapshotOp(operation, status string) {
	snapshotOpsTotal.WithLabelValues(operation, status).Inc()
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
