// Package telemetry wraps the OpenTelemetry tracer, each span is ended together with the operation error.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/keboola/schedule-coordinator"

type ctxKey string

type Telemetry interface {
	TracerProvider() trace.TracerProvider
	Tracer() Tracer
}

type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, Span)
}

type telemetry struct {
	provider trace.TracerProvider
	tracer   *tracer
}

type tracer struct {
	tracer trace.Tracer
}

func New(provider trace.TracerProvider) Telemetry {
	return &telemetry{provider: provider, tracer: &tracer{tracer: provider.Tracer(instrumentationName)}}
}

func NewNop() Telemetry {
	return New(noop.NewTracerProvider())
}

func (t *telemetry) TracerProvider() trace.TracerProvider {
	return t.provider
}

func (t *telemetry) Tracer() Tracer {
	return t.tracer
}

func (t *tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, Span) {
	if IsTracingDisabled(ctx) {
		return ctx, &span{span: trace.SpanFromContext(context.Background())}
	}
	ctx, s := t.tracer.Start(ctx, spanName, opts...)
	return ctx, &span{span: s}
}

// ContextWithSpan returns a context with the span, a new span started from the context is its child.
func ContextWithSpan(ctx context.Context, s Span) context.Context {
	if v, ok := s.(*span); ok {
		return trace.ContextWithSpan(ctx, v.span)
	}
	return ctx
}

func SpanFromContext(ctx context.Context) Span {
	return &span{span: trace.SpanFromContext(ctx)}
}
