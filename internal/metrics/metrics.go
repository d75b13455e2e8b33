// Package metrics centralizes the gateway's Prometheus instrumentation.
// Follows the established internal/observability package (one struct of
// promauto-registered vectors plus thin Record* methods), narrowed to the
// gateway's own concerns: HTTP surface, outbound provider calls, routing
// decisions, tool dispatch, and memory recall.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram/gauge the gateway exposes at
// /metrics.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestCounter  *prometheus.CounterVec

	ProviderRequestDuration *prometheus.HistogramVec
	ProviderRequestCounter  *prometheus.CounterVec
	ProviderRetries         *prometheus.CounterVec

	RouteDecisions *prometheus.CounterVec

	ToolExecutions        *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	MemoryRecallDuration *prometheus.HistogramVec
	MemoryRecordsStored  prometheus.Counter

	SubAgentSpawns  *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	ErrorsByCode    *prometheus.CounterVec
}

// New registers and returns a fresh Metrics set. Call once at startup.
func New() *Metrics {
	return &Metrics{
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the gateway.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "path", "status"}),

		HTTPRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_http_requests_total",
			Help: "Total HTTP requests served by the gateway.",
		}, []string{"method", "path", "status"}),

		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccr_provider_request_duration_seconds",
			Help:    "Duration of outbound calls to an upstream provider.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model", "status"}),

		ProviderRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_provider_requests_total",
			Help: "Total outbound calls to upstream providers.",
		}, []string{"provider", "model", "status"}),

		ProviderRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_provider_retries_total",
			Help: "Total retry attempts against an upstream provider.",
		}, []string{"provider", "model"}),

		RouteDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_route_decisions_total",
			Help: "Routing decisions by resolved route name.",
		}, []string{"route"}),

		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_tool_executions_total",
			Help: "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccr_tool_execution_duration_seconds",
			Help:    "Tool handler execution time.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"tool"}),

		MemoryRecallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccr_memory_recall_duration_seconds",
			Help:    "Duration of memory recall lookups.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mode"}),

		MemoryRecordsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccr_memory_records_stored_total",
			Help: "Total memory records written via remember or auto-extraction.",
		}),

		SubAgentSpawns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_subagent_spawns_total",
			Help: "Sub-agent spawns by resolved mode and outcome.",
		}, []string{"mode", "status"}),

		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ccr_active_streams",
			Help: "Number of /v1/messages streaming responses currently open.",
		}),

		ErrorsByCode: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_errors_total",
			Help: "Gateway errors by taxonomy code.",
		}, []string{"code"}),
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, seconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}

// RecordProviderRequest records one outbound provider call attempt and
// its outcome; a call that is retried records each attempt separately.
func (m *Metrics) RecordProviderRequest(provider, model, status string, seconds float64) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model, status).Observe(seconds)
}

// RecordProviderRetry records one retried attempt against a provider.
func (m *Metrics) RecordProviderRetry(provider, model string) {
	m.ProviderRetries.WithLabelValues(provider, model).Inc()
}

// RecordRouteDecision records which named route a request resolved to.
func (m *Metrics) RecordRouteDecision(route string) {
	m.RouteDecisions.WithLabelValues(route).Inc()
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordMemoryRecall records one recall lookup's latency and mode
// ("semantic" or "lexical").
func (m *Metrics) RecordMemoryRecall(mode string, seconds float64) {
	m.MemoryRecallDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordMemoryStored increments the stored-records counter.
func (m *Metrics) RecordMemoryStored() {
	m.MemoryRecordsStored.Inc()
}

// RecordSubAgentSpawn records one spawn_subagent dispatch.
func (m *Metrics) RecordSubAgentSpawn(mode, status string) {
	m.SubAgentSpawns.WithLabelValues(mode, status).Inc()
}

// RecordError increments the error counter for a gateway error code.
func (m *Metrics) RecordError(code string) {
	m.ErrorsByCode.WithLabelValues(code).Inc()
}
