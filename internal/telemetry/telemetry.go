// Package telemetry holds the process-wide Prometheus metrics and the
// OpenTelemetry tracer.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

var (
	chatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopease_chat_turns_total",
			Help: "Chat turns by outcome",
		},
		[]string{"outcome"},
	)
	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopease_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	indexOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopease_index_operations_total",
			Help: "Vector index operations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	chatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopease_chat_duration_seconds",
			Help:    "Duration of chat turns in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)
	modelRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopease_model_rounds",
			Help:    "Model rounds needed to finish a chat turn",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)
)

var tracer = otel.Tracer("shopease")

func init() {
	prometheus.MustRegister(chatTurns, toolCalls, indexOps, chatDuration, modelRounds)
}

// Outcome labels a result: "ok", or the error kind with spaces replaced.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.KindOf(err) {
	case apperr.ProviderUnavailable:
		return "provider_unavailable"
	case apperr.IndexUnavailable:
		return "index_unavailable"
	case apperr.InvalidArgument:
		return "invalid_argument"
	case apperr.NotFound:
		return "not_found"
	case apperr.AgentFailure:
		return "agent_failure"
	default:
		return "error"
	}
}

func ObserveChatTurn(start time.Time, err error) {
	chatTurns.WithLabelValues(Outcome(err)).Inc()
	chatDuration.Observe(time.Since(start).Seconds())
}

func ObserveModelRounds(n int) {
	modelRounds.Observe(float64(n))
}

// ObserveToolCall counts a dispatch. outcome is "ok", "rejected" or an error outcome.
func ObserveToolCall(tool, outcome string) {
	toolCalls.WithLabelValues(tool, outcome).Inc()
}

func ObserveIndexOp(op string, err error) {
	indexOps.WithLabelValues(op, Outcome(err)).Inc()
}

// StartSpan starts a span with string attributes given as key/value pairs.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Event adds a named event with string attributes to the span in ctx.
func Event(ctx context.Context, name string, kv ...string) {
	span := trace.SpanFromContext(ctx)
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
