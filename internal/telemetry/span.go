package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span and returns a function that ends it. Defer the
// returned function with a pointer to the caller's named error result:
//
//	ctx, end := telemetry.StartSpan(ctx, tracer, "create")
//	defer end(&err)
//
// A non-nil error is recorded and sets the span status. When deferred
// directly, a panic is recorded, the span is ended, and the panic resumes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	return ctx, func(errp *error) {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r), trace.WithStackTrace(true))
			span.SetStatus(codes.Error, "panic")
			span.End()
			panic(r)
		}

		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}
