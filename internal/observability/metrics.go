package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus metrics.
type Metrics struct {
	// GenerationCounter counts generation calls.
	// Labels: mode (generate|stream), status (success|error|rejected)
	GenerationCounter *prometheus.CounterVec

	// GenerationDuration measures end-to-end generation latency in seconds.
	// Labels: mode, model
	GenerationDuration *prometheus.HistogramVec

	// TimeToFirstByte measures stream TTFB in seconds. Labels: model
	TimeToFirstByte *prometheus.HistogramVec

	// ToolResolutionDuration measures per-connection tool discovery latency.
	// Labels: outcome (ok|timeout|error|empty)
	ToolResolutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: connection, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption. Labels: model, type (input|output|reasoning)
	TokensUsed *prometheus.CounterVec

	// UsageRecordFailures counts wallet usage-record writes that failed.
	UsageRecordFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
// A nil registerer uses the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		GenerationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_generations_total",
				Help: "Total number of generation calls by mode and status",
			},
			[]string{"mode", "status"},
		),

		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_generation_duration_seconds",
				Help:    "Duration of generation calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode", "model"},
		),

		TimeToFirstByte: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_stream_ttfb_seconds",
				Help:    "Time from stream initiation to the first produced chunk",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"model"},
		),

		ToolResolutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_tool_resolution_duration_seconds",
				Help:    "Per-connection tool discovery latency by outcome",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"outcome"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_executions_total",
				Help: "Total number of tool invocations by connection and status",
			},
			[]string{"connection", "status"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		UsageRecordFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_usage_record_failures_total",
				Help: "Wallet usage-record writes that failed and were dropped",
			},
		),
	}
}
