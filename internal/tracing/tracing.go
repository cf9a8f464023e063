// Package tracing wires the daemon's agent runs, engine calls, and
// tool calls into OpenTelemetry spans, emitted directly through the
// otel SDK so any OTLP-compatible backend can consume them.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Collector owns the tracer used to emit agent/engine/tool spans.
// Callers obtain a tracer once at startup and inject it via context,
// rather than reaching for a package-level singleton.
type Collector struct {
	tracer trace.Tracer
}

// NewCollector builds a Collector backed by an already-configured
// TracerProvider (the caller wires the OTLP exporter — grpc or http —
// per config.TelemetryConfig).
func NewCollector(tp trace.TracerProvider) *Collector {
	return &Collector{tracer: tp.Tracer("github.com/nextlevelbuilder/agentcore")}
}

// NewResource builds the otel Resource describing this service instance.
func NewResource(serviceName, instanceID string) *resource.Resource {
	r, _ := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceInstanceID(instanceID),
		),
	)
	return r
}

// NewTracerProvider builds an SDK TracerProvider with no exporter
// registered; callers attach a batch span processor with whichever
// OTLP exporter (grpc/http) config selects.
func NewTracerProvider(res *resource.Resource, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	allOpts := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	return sdktrace.NewTracerProvider(allOpts...)
}

type collectorCtxKey struct{}

// ContextWithCollector attaches c to ctx for downstream span emission.
func ContextWithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorCtxKey{}, c)
}

// CollectorFromContext retrieves a Collector previously attached with
// ContextWithCollector, or nil if none was attached (tracing disabled).
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorCtxKey{}).(*Collector)
	return c
}

// StartAgentSpan opens the root span for one agent run. Use the
// returned context for all engine/tool spans nested under it.
func (c *Collector) StartAgentSpan(ctx context.Context, agentID, sessionKey string) (context.Context, trace.Span) {
	if c == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("session.key", sessionKey),
		),
	)
}

// StartEngineSpan opens a span for one engine (LLM) call.
func (c *Collector) StartEngineSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	if c == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, "engine.chat",
		trace.WithAttributes(
			attribute.String("engine.provider", provider),
			attribute.String("engine.model", model),
		),
	)
}

// StartToolSpan opens a span for one tool execution.
func (c *Collector) StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	if c == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, "tool.exec",
		trace.WithAttributes(attribute.String("tool.name", toolName)),
	)
}

// EndWithError records err (if non-nil) on span and sets its status
// accordingly, then ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceIDFromContext returns the hex trace ID of the span active in
// ctx, or "" if there is none (tracing disabled or no span started).
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

type parentSpanIDKey struct{}

// AnnounceParentSpanIDFromContext attaches an externally-supplied
// parent span ID (e.g. from a cron-triggered run that wants to nest
// under a gateway request's trace). Only ParentSpanIDFromContext reads
// it back; StartAgentSpan does not link to it.
func AnnounceParentSpanIDFromContext(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey{}, spanID)
}

// ParentSpanIDFromContext retrieves a span ID previously announced
// with AnnounceParentSpanIDFromContext, or "" if none was set.
func ParentSpanIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(parentSpanIDKey{}).(string)
	return id
}

// otelGlobalSet records whether SetGlobalTracerProvider has been
// called, exposed through GlobalTracerProviderSet (the doctor command
// does not call it).
var otelGlobalSet bool

// SetGlobalTracerProvider installs tp as the process-wide default,
// used only by third-party libraries that fetch the tracer via
// otel.Tracer(...) instead of dependency injection.
func SetGlobalTracerProvider(tp trace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otelGlobalSet = true
}

// GlobalTracerProviderSet reports whether SetGlobalTracerProvider ran.
func GlobalTracerProviderSet() bool { return otelGlobalSet }
