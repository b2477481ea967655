// Package observability provides unified logging, metrics, and tracing for
// the concord engine. All components log through the Logger interface and
// record measurements through MetricsClient so tests can swap in no-ops.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel defines log message severity
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Logger defines the interface for logging
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	WithPrefix(prefix string) Logger
	With(fields map[string]interface{}) Logger
}

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	RecordTimer(name string, duration time.Duration, labels map[string]string)
}

// Span is the subset of the otel span API the engine uses
type Span interface {
	End(options ...trace.SpanEndOption)
	RecordError(err error, options ...trace.EventOption)
}

// StartSpanFunc opens a named span on the given context
type StartSpanFunc func(ctx context.Context, name string) (context.Context, Span)

// StartSpan is the default StartSpanFunc backed by the global otel tracer.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return otel.Tracer("concord").Start(ctx, name)
}

// NoopStartSpan returns spans that do nothing; used in tests.
func NoopStartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(...trace.SpanEndOption)            {}
func (noopSpan) RecordError(error, ...trace.EventOption) {}
