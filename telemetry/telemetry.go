// Package telemetry holds the operator-facing signals of a session: the
// slog logger, Prometheus metrics, and OpenTelemetry spans.
//
// Clients never consume these; they read the protocol event stream.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/martinemde/agentcore"

// NewLogger builds a slog logger writing to w. Format is "text" or "json".
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(orDefault(level, "info"))))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(orDefault(format, "text")) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// Metrics groups the Prometheus collectors exported by the agent core.
type Metrics struct {
	ExecCommands        *prometheus.CounterVec
	ExecDuration        *prometheus.HistogramVec
	ToolCalls           *prometheus.CounterVec
	ToolDuration        *prometheus.HistogramVec
	Compactions         *prometheus.CounterVec
	CompactionTrimmed   prometheus.Counter
	ModelRequests       *prometheus.CounterVec
	ModelRequestSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and sub-agents use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_exec_commands_total",
				Help: "Sandboxed commands by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		ExecDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_exec_command_duration_seconds",
				Help:    "Wall-clock duration of sandboxed commands",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"source"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_calls_total",
				Help: "Tool calls by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_call_duration_seconds",
				Help:    "Duration of tool calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		Compactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Compaction attempts by outcome",
			},
			[]string{"outcome"},
		),
		CompactionTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_compaction_trimmed_items_total",
			Help: "History items dropped to fit a compaction prompt into the context window",
		}),
		ModelRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_requests_total",
				Help: "Model requests by status",
			},
			[]string{"status"},
		),
		ModelRequestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_model_request_duration_seconds",
			Help:    "Duration of model requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ExecCommands, m.ExecDuration,
			m.ToolCalls, m.ToolDuration,
			m.Compactions, m.CompactionTrimmed,
			m.ModelRequests, m.ModelRequestSeconds,
		)
	}
	return m
}

// Tracer returns the package tracer from the global provider. Without an
// installed provider the spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span with the given string attributes, given as
// key/value pairs.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
