package cache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the optional observability collaborator. Implementations
// must tolerate any input; the engine never branches on telemetry results
// and telemetry failures never affect an operation's outcome.
type Telemetry interface {
	// StartSpan opens a span for one engine operation.
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, Span)
	// RecordEvent records a standalone event outside any span.
	RecordEvent(category, name string, attrs map[string]any)
}

// Span is a handle to an in-flight telemetry span.
type Span interface {
	SetAttribute(key string, value any)
	AddEvent(name string, attrs map[string]any)
	RecordError(err error)
	End()
}

type nopTelemetry struct{}

type nopSpan struct{}

func (nopTelemetry) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, Span) {
	return ctx, nopSpan{}
}
func (nopTelemetry) RecordEvent(_, _ string, _ map[string]any) {}

func (nopSpan) SetAttribute(string, any) {}

func (nopSpan) AddEvent(string, map[string]any) {}

func (nopSpan) RecordError(error) {}

func (nopSpan) End() {}

// otelTelemetry adapts an OpenTelemetry tracer to the Telemetry interface.
type otelTelemetry struct {
	tracer trace.Tracer
}

// NewOtelTelemetry returns a Telemetry implementation recording spans on
// the given tracer. Standalone events are emitted as zero-length spans so
// they survive in trace backends without a metrics pipeline.
func NewOtelTelemetry(tracer trace.Tracer) Telemetry {
	return &otelTelemetry{tracer: tracer}
}

func (t *otelTelemetry) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toKeyValues(attrs)...))
	return ctx, &otelSpan{span: span}
}

func (t *otelTelemetry) RecordEvent(category, name string, attrs map[string]any) {
	_, span := t.tracer.Start(context.Background(), category+"."+name, trace.WithAttributes(toKeyValues(attrs)...))
	span.End()
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toKeyValue(key, value))
}

func (s *otelSpan) AddEvent(name string, attrs map[string]any) {
	s.span.AddEvent(name, trace.WithAttributes(toKeyValues(attrs)...))
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.span.End()
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, toKeyValue(k, v))
	}
	return kvs
}

func toKeyValue(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
