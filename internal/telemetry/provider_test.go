package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/batch"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceName = "books-api"

	res := newResource(cfg)
	require.NotNil(t, res)

	var foundServiceName bool
	for _, attr := range res.Attributes() {
		if string(attr.Key) == "service.name" {
			assert.Equal(t, "books-api", attr.Value.AsString())
			foundServiceName = true
		}
	}
	assert.True(t, foundServiceName, "service.name attribute not found")
}

func TestNewSampler(t *testing.T) {
	root := func(rate float64) sdktrace.SamplingDecision {
		res := newSampler(rate).ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			Name:          "root",
		})
		return res.Decision
	}

	assert.Equal(t, sdktrace.RecordAndSample, root(1.0))
	assert.Equal(t, sdktrace.Drop, root(0))
}

func TestNewExporters(t *testing.T) {
	for _, protocol := range []string{ProtocolHTTP, ProtocolGRPC} {
		t.Run(protocol, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Protocol = protocol

			// Exporters connect lazily, so construction succeeds without a collector.
			spans, err := newSpanExporter(context.Background(), cfg)
			require.NoError(t, err)
			assert.NoError(t, spans.Shutdown(context.Background()))

			logs, err := newLogExporter(context.Background(), cfg)
			require.NoError(t, err)
			assert.NoError(t, logs.Shutdown(context.Background()))
		})
	}
}

func TestSpanProcessor_SkipsUnsampled(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	cfg := batch.DefaultConfig()
	proc, err := batch.New[sdktrace.ReadOnlySpan]("traces", spanExporter{mem}, cfg)
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.NeverSample()),
		sdktrace.WithSpanProcessor(spanProcessor{batch: proc}),
	)
	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()

	_, span = tp.Tracer("test").Start(context.Background(), "also dropped")
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Empty(t, mem.GetSpans())
	assert.Zero(t, proc.Stats().Enqueued)
}

func TestSpanProcessor_ExportsEndedSpans(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	proc, err := batch.New[sdktrace.ReadOnlySpan]("traces", spanExporter{mem}, batch.DefaultConfig())
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanProcessor{batch: proc}))
	_, span := tp.Tracer("test").Start(context.Background(), "findAll")
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := mem.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "findAll", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestLogProcessor_ClonesRecords(t *testing.T) {
	exp := &memLogExporter{}
	proc, err := batch.New[sdklog.Record]("logs", exp, batch.DefaultConfig())
	require.NoError(t, err)

	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(logProcessor{batch: proc}))
	emitBody(lp, "first")
	emitBody(lp, "second")

	require.NoError(t, lp.Shutdown(context.Background()))

	records := exp.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Body().AsString())
	assert.Equal(t, "second", records[1].Body().AsString())
}
