package logging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// failures records Errorf calls instead of failing the enclosing test.
type failures struct {
	testing.TB
	msgs []string
}

func (f *failures) Helper() {}

func (f *failures) Errorf(format string, args ...any) {
	f.msgs = append(f.msgs, fmt.Sprintf(format, args...))
}

func TestTestLogger_AssertLogged(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "book created", zap.Int("id", 1))

	tl.AssertLogged(t, zapcore.InfoLevel, "created")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "created")

	f := &failures{TB: t}
	tl.AssertLogged(f, zapcore.WarnLevel, "created")
	tl.AssertNotLogged(f, zapcore.InfoLevel, "book")
	assert.Len(t, f.msgs, 2)
}

func TestTestLogger_AssertField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "request",
		zap.String("method", "GET"),
		zap.Int("status", 200),
		zap.Duration("duration", time.Second),
	)

	tl.AssertField(t, "request", "method", "GET")
	tl.AssertField(t, "request", "status", int64(200))
	tl.AssertField(t, "request", "duration", time.Second)

	f := &failures{TB: t}
	tl.AssertField(f, "request", "status", 200)
	tl.AssertField(f, "request", "missing", "x")
	tl.AssertField(f, "other", "method", "GET")
	assert.Len(t, f.msgs, 3)
}

func TestTestLogger_AssertNoTraceCorrelation(t *testing.T) {
	tl := NewTestLogger()
	tracer := newTestTracer(t).Tracer("test")
	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()

	tl.Info(ctx, "traced")

	f := &failures{TB: t}
	tl.AssertNoTraceCorrelation(f, "traced")
	assert.Len(t, f.msgs, 2, "both trace_id and span_id reported")
}

func TestTestLogger_Reset(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "before reset")
	assert.Len(t, tl.All(), 1, "trace level is captured")

	tl.Reset()

	assert.Empty(t, tl.All())
}
