package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/correlation"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/propagators"
)

// TestTelemetry provides in-memory telemetry for testing.
//
// Spans, log records and metrics are captured synchronously; log records
// pass through the same correlation hook as in production.
type TestTelemetry struct {
	SpanRecorder *tracetest.SpanRecorder
	MetricReader *sdkmetric.ManualReader
	Logs         *RecordCapture

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

// NewTestTelemetry creates telemetry with in-memory exporters for testing.
func NewTestTelemetry() *TestTelemetry {
	spanRecorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	logs := &RecordCapture{}

	return &TestTelemetry{
		SpanRecorder:   spanRecorder,
		MetricReader:   reader,
		Logs:           logs,
		tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(spanRecorder)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		loggerProvider: sdklog.NewLoggerProvider(
			sdklog.WithProcessor(correlation.New("shelfd-test")),
			sdklog.WithProcessor(logs),
		),
	}
}

// Tracer returns a tracer recording into SpanRecorder.
func (t *TestTelemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter read by MetricReader.
func (t *TestTelemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return t.meterProvider.Meter(name, opts...)
}

// TracerProvider returns the recording tracer provider.
func (t *TestTelemetry) TracerProvider() oteltrace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the manual-reader meter provider.
func (t *TestTelemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// LoggerProvider returns a provider whose records land in Logs.
func (t *TestTelemetry) LoggerProvider() log.LoggerProvider {
	return t.loggerProvider
}

// Propagator returns the default propagator chain.
func (t *TestTelemetry) Propagator() propagation.TextMapPropagator {
	return propagators.Default()
}

// Spans returns all recorded spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			got := attrValue(attr.Value)
			if got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// CounterValue sums the data points of an int64 counter whose attributes
// include every pair in match.
func (t *TestTelemetry) CounterValue(tb testing.TB, name string, match ...attribute.KeyValue) int64 {
	tb.Helper()
	var total int64
	for _, data := range t.collect(tb, name) {
		sum, ok := data.(metricdata.Sum[int64])
		if !ok {
			tb.Fatalf("metric %q is %T, not an int64 sum", name, data)
		}
		for _, dp := range sum.DataPoints {
			if hasAttributes(dp.Attributes, match) {
				total += dp.Value
			}
		}
	}
	return total
}

// HistogramCount returns how many observations a histogram holds across the
// data points matching every pair in match.
func (t *TestTelemetry) HistogramCount(tb testing.TB, name string, match ...attribute.KeyValue) uint64 {
	tb.Helper()
	var count uint64
	for _, data := range t.collect(tb, name) {
		switch h := data.(type) {
		case metricdata.Histogram[float64]:
			for _, dp := range h.DataPoints {
				if hasAttributes(dp.Attributes, match) {
					count += dp.Count
				}
			}
		case metricdata.Histogram[int64]:
			for _, dp := range h.DataPoints {
				if hasAttributes(dp.Attributes, match) {
					count += dp.Count
				}
			}
		default:
			tb.Fatalf("metric %q is %T, not a histogram", name, data)
		}
	}
	return count
}

func (t *TestTelemetry) collect(tb testing.TB, name string) []metricdata.Aggregation {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.MetricReader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collecting metrics: %v", err)
	}
	var out []metricdata.Aggregation
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				out = append(out, m.Data)
			}
		}
	}
	return out
}

// Shutdown releases the providers.
func (t *TestTelemetry) Shutdown(ctx context.Context) error {
	_ = t.tracerProvider.Shutdown(ctx)
	_ = t.loggerProvider.Shutdown(ctx)
	return t.meterProvider.Shutdown(ctx)
}

// spanNames returns names of all recorded spans.
func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

func hasAttributes(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

// attrValue extracts the value from an attribute.
func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// RecordCapture is an sdklog.Processor that keeps a clone of every record.
type RecordCapture struct {
	mu      sync.Mutex
	records []sdklog.Record
}

var _ sdklog.Processor = (*RecordCapture)(nil)

func (c *RecordCapture) OnEmit(_ context.Context, r *sdklog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r.Clone())
	return nil
}

func (c *RecordCapture) Shutdown(context.Context) error   { return nil }
func (c *RecordCapture) ForceFlush(context.Context) error { return nil }

func (c *RecordCapture) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }

// Records returns the captured records.
func (c *RecordCapture) Records() []sdklog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sdklog.Record(nil), c.records...)
}

// ByBody returns the first record whose body is msg.
func (c *RecordCapture) ByBody(msg string) (sdklog.Record, bool) {
	for _, r := range c.Records() {
		if r.Body().AsString() == msg {
			return r, true
		}
	}
	return sdklog.Record{}, false
}

// Attributes flattens a record's attributes to strings.
func Attributes(r sdklog.Record) map[string]string {
	out := map[string]string{}
	r.WalkAttributes(func(kv log.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}
