// OpenTelemetry tracing for heartbeat lifecycle operations.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName identifies spans produced by this module.
const InstrumentationName = "github.com/vinayprograms/agentbeat"

// Span names for lifecycle operations.
const (
	SpanStart       = "heartbeat.start"
	SpanStop        = "heartbeat.stop"
	SpanResolvePort = "heartbeat.resolve_port"
	SpanAnnounce    = "heartbeat.announce"
)

// Tracer wraps an OpenTelemetry tracer with heartbeat-specific helpers.
// The provider is injected; no global provider is consulted.
type Tracer struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer from tp. A nil tp yields a no-op tracer.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{
		provider: tp,
		tracer:   tp.Tracer(InstrumentationName),
	}
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return NewTracer(nil)
}

// Provider returns the underlying TracerProvider, e.g. for HTTP instrumentation.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.provider
}

// StartSpan starts an internal span for a lifecycle operation.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err (if any), sets the span status and ends the span.
func (t *Tracer) EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AgentAttributes describes the agent a span is about.
func AgentAttributes(agentID string, capabilities []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("agent.id", agentID),
		attribute.StringSlice("agent.capabilities", capabilities),
	}
}

// AddrAttributes describes a listening address.
func AddrAttributes(host string, port int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("server.address", host),
		attribute.Int("server.port", port),
	}
}
