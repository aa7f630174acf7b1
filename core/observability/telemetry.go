// Package observability wires the fourteen-stage turn pipeline to the
// on_decision/on_metric/on_audit hook contract: a fan-out bus publishing
// typed events to subscribers, a replayable decision log, a tamper-evident
// audit chain, and OTEL-backed logging/metrics/tracing.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging for the decision core. Implementations
// typically delegate to Clue but the interface stays small so tests can
// supply lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for pipeline
// instrumentation: stage latency, weight-update magnitude, drift score,
// quarantine counts.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so the pipeline stays agnostic of the
// underlying OTEL provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span, one per turn or per stage when
// fine-grained tracing is enabled.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
