package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Correlation field keys. The OTEL correlation hook stamps the same keys on
// exported log records.
const (
	TraceIDKey   = "trace_id"
	SpanIDKey    = "span_id"
	RequestIDKey = "request.id"
)

// ContextFields returns the correlation fields ctx carries: trace and span
// IDs of a valid span context, and the request ID if one was attached.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String(TraceIDKey, sc.TraceID().String()),
			zap.String(SpanIDKey, sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String(RequestIDKey, id))
	}
	return fields
}

type requestIDKey struct{}

// maxRequestIDLen bounds client-supplied IDs; a UUID is 36.
const maxRequestIDLen = 128

// WithRequestID attaches id to ctx. Request IDs may come from clients, so
// IDs that are empty, too long or contain anything other than ASCII
// letters, digits, '-' and '_' are dropped and ctx is returned unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validRequestID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
