package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Scope wraps one span. Spans go to the global tracer provider, which is a
// noop until a binary installs an exporter.
type Scope struct {
	span oteltrace.Span
}

func Start(ctx context.Context, scopeName, spanName string) (context.Context, *Scope) {
	ctx, span := otel.Tracer(scopeName).Start(ctx, spanName)
	return ctx, &Scope{span: span}
}

// End records err (when non-nil) and closes the span.
func (s *Scope) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *Scope) SetAttribute(key string, value any) {
	switch val := value.(type) {
	case bool:
		s.span.SetAttributes(attribute.Bool(key, val))
	case string:
		s.span.SetAttributes(attribute.String(key, val))
	case int:
		s.span.SetAttributes(attribute.Int(key, val))
	case fmt.Stringer:
		s.span.SetAttributes(attribute.String(key, val.String()))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", val)))
	}
}
