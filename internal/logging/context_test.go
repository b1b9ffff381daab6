package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestTracer(t *testing.T) *trace.TracerProvider {
	t.Helper()
	provider := trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithSyncer(tracetest.NewInMemoryExporter()),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_ActiveSpan(t *testing.T) {
	tracer := newTestTracer(t).Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-operation")
	defer span.End()

	fields := ContextFields(ctx)

	sc := span.SpanContext()
	assertFieldExists(t, fields, TraceIDKey, sc.TraceID().String())
	assertFieldExists(t, fields, SpanIDKey, sc.SpanID().String())
	assertBoolFieldExists(t, fields, "trace_sampled", true)
}

func TestContextFields_RequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, RequestIDKey, "req-123")
}

func TestWithRequestID_UUID(t *testing.T) {
	id := "6f1c2a0e-5b7d-4c43-9d1e-2f8a3b4c5d6e"
	assert.Equal(t, id, RequestIDFromContext(WithRequestID(context.Background(), id)))
}

func TestWithRequestID_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "req 123"},
		{"newline", "req\n123"},
		{"non-ascii", "réq-123"},
		{"too long", strings.Repeat("a", maxRequestIDLen+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithRequestID(context.Background(), tt.id)
			assert.Empty(t, RequestIDFromContext(ctx))
		})
	}
}

func TestLogger_CorrelatesActiveSpan(t *testing.T) {
	tl := NewTestLogger()
	tracer := newTestTracer(t).Tracer("test")

	ctx, span := tracer.Start(context.Background(), "op")
	tl.Info(ctx, "inside span")
	span.End()
	tl.Info(context.Background(), "outside span")

	sc := span.SpanContext()
	tl.AssertTraceCorrelation(t, "inside span", sc.TraceID().String(), sc.SpanID().String())
	tl.AssertNoTraceCorrelation(t, "outside span")
}

func TestExpandContext_LeavesOtherFields(t *testing.T) {
	in := []zap.Field{zap.String("a", "1"), Context(context.Background()), zap.Int("b", 2)}

	out := expandContext(in)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Key)
	assert.Equal(t, "b", out[1].Key)
	assert.Len(t, in, 3, "input must not be modified")
}

func assertFieldExists(t *testing.T, fields []zap.Field, key, want string) {
	t.Helper()
	for _, f := range fields {
		if f.Key == key {
			assert.Equal(t, zapcore.StringType, f.Type, "field %q type", key)
			assert.Equal(t, want, f.String, "field %q", key)
			return
		}
	}
	t.Errorf("field %q not found in %v", key, fields)
}

func assertBoolFieldExists(t *testing.T, fields []zap.Field, key string, want bool) {
	t.Helper()
	for _, f := range fields {
		if f.Key == key {
			assert.Equal(t, zapcore.BoolType, f.Type, "field %q type", key)
			assert.Equal(t, want, f.Integer == 1, "field %q", key)
			return
		}
	}
	t.Errorf("field %q not found in %v", key, fields)
}
