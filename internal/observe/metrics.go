// Package observe provides application-wide observability primitives for
// Mantle: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Mantle metrics.
const meterName = "github.com/tealdrake/mantle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// TurnDuration tracks end-to-end conversation turn latency.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks completion-call latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool invocation latency.
	ToolExecutionDuration metric.Float64Histogram

	// ToolDiscoveryDuration tracks the latency of aggregating tool
	// catalogues across all registered MCP servers.
	ToolDiscoveryDuration metric.Float64Histogram

	// --- Counters ---

	// CompletionRequests counts completion calls. Use with attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	CompletionRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AgentTurns counts completed turns. Use with attribute:
	//   attribute.String("agent_id", ...)
	AgentTurns metric.Int64Counter

	// TokensUsed counts tokens reported by the completion endpoint. Use with
	// attributes:
	//   attribute.String("model", ...), attribute.String("kind", "prompt"|"completion")
	TokensUsed metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live streaming responses.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// completion and tool-call latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("mantle.turn.duration",
		metric.WithDescription("End-to-end conversation turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mantle.llm.duration",
		metric.WithDescription("Latency of completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("mantle.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDiscoveryDuration, err = m.Float64Histogram("mantle.tool_discovery.duration",
		metric.WithDescription("Latency of aggregating tool catalogues across MCP servers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CompletionRequests, err = m.Int64Counter("mantle.llm.requests",
		metric.WithDescription("Total completion calls by model and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("mantle.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AgentTurns, err = m.Int64Counter("mantle.agent.turns",
		metric.WithDescription("Total completed turns by agent ID."),
	); err != nil {
		return nil, err
	}
	if met.TokensUsed, err = m.Int64Counter("mantle.llm.tokens",
		metric.WithDescription("Total tokens reported by the completion endpoint, by model and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("mantle.active_streams",
		metric.WithDescription("Number of live streaming responses."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mantle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCompletionRequest records a completion-call counter increment with
// the standard attribute set.
func (m *Metrics) RecordCompletionRequest(ctx context.Context, model, status string) {
	m.CompletionRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records a tool-invocation counter increment with the
// standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAgentTurn records a completed-turn counter increment.
func (m *Metrics) RecordAgentTurn(ctx context.Context, agentID string) {
	m.AgentTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent_id", agentID)),
	)
}

// RecordTokenUsage records prompt and completion token counts for a model.
// Zero counts are skipped; not every backend reports usage.
func (m *Metrics) RecordTokenUsage(ctx context.Context, model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		m.TokensUsed.Add(ctx, int64(promptTokens),
			metric.WithAttributes(
				attribute.String("model", model),
				attribute.String("kind", "prompt"),
			),
		)
	}
	if completionTokens > 0 {
		m.TokensUsed.Add(ctx, int64(completionTokens),
			metric.WithAttributes(
				attribute.String("model", model),
				attribute.String("kind", "completion"),
			),
		)
	}
}
