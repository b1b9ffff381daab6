package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/batch"
)

// newResource creates a resource describing the service.
func newResource(cfg *Config) *resource.Resource {
	// Standalone resource: resource.Default() carries a different semconv
	// schema URL and merging the two fails.
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

// newSampler honors the parent's decision and samples roots by ratio.
func newSampler(rate float64) trace.Sampler {
	var root trace.Sampler
	switch {
	case rate >= 1.0:
		root = trace.AlwaysSample()
	case rate <= 0:
		root = trace.NeverSample()
	default:
		root = trace.TraceIDRatioBased(rate)
	}
	return trace.ParentBased(root)
}

func (c *Config) tlsConfig() *tls.Config {
	if c.TLSSkipVerify {
		return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // User explicitly requested
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

// newSpanExporter creates the OTLP trace sink. Retries are owned by the
// batch processor, so the exporter's own retry is disabled.
func newSpanExporter(ctx context.Context, cfg *Config) (trace.SpanExporter, error) {
	timeout := cfg.Traces.ExportTimeout.Duration()

	var (
		exporter trace.SpanExporter
		err      error
	)
	switch cfg.Protocol {
	case ProtocolGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint()),
			otlptracegrpc.WithTimeout(timeout),
			otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{Enabled: false}),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(cfg.tlsConfig())))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpointURL(cfg.TracesURL()),
			otlptracehttp.WithTimeout(timeout),
			otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
		}
		if !cfg.Insecure {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(cfg.tlsConfig()))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	return exporter, nil
}

// newLogExporter creates the OTLP log sink with its own retry disabled.
func newLogExporter(ctx context.Context, cfg *Config) (sdklog.Exporter, error) {
	timeout := cfg.Logs.ExportTimeout.Duration()

	var (
		exporter sdklog.Exporter
		err      error
	)
	switch cfg.Protocol {
	case ProtocolGRPC:
		opts := []otlploggrpc.Option{
			otlploggrpc.WithEndpoint(cfg.Endpoint()),
			otlploggrpc.WithTimeout(timeout),
			otlploggrpc.WithRetry(otlploggrpc.RetryConfig{Enabled: false}),
		}
		if cfg.Insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		} else {
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(cfg.tlsConfig())))
		}
		exporter, err = otlploggrpc.New(ctx, opts...)
	default:
		opts := []otlploghttp.Option{
			otlploghttp.WithEndpointURL(cfg.LogsURL()),
			otlploghttp.WithTimeout(timeout),
			otlploghttp.WithRetry(otlploghttp.RetryConfig{Enabled: false}),
		}
		if !cfg.Insecure {
			opts = append(opts, otlploghttp.WithTLSClientConfig(cfg.tlsConfig()))
		}
		exporter, err = otlploghttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}
	return exporter, nil
}

// spanExporter adapts an SDK span exporter to the batch processor.
type spanExporter struct {
	trace.SpanExporter
}

func (e spanExporter) Export(ctx context.Context, spans []trace.ReadOnlySpan) error {
	return e.ExportSpans(ctx, spans)
}

// spanProcessor hands ended, sampled spans to a batch processor.
type spanProcessor struct {
	batch *batch.Processor[trace.ReadOnlySpan]
}

var _ trace.SpanProcessor = spanProcessor{}

func (p spanProcessor) OnStart(context.Context, trace.ReadWriteSpan) {}

func (p spanProcessor) OnEnd(s trace.ReadOnlySpan) {
	if !s.SpanContext().IsSampled() {
		return
	}
	// Overflow and closed-pipeline drops are counted by the processor.
	_ = p.batch.Enqueue(s)
}

func (p spanProcessor) Shutdown(ctx context.Context) error   { return p.batch.Shutdown(ctx) }
func (p spanProcessor) ForceFlush(ctx context.Context) error { return p.batch.ForceFlush(ctx) }

// logProcessor hands emitted records to a batch processor. The record is
// cloned because the SDK reuses it after OnEmit returns.
type logProcessor struct {
	batch *batch.Processor[sdklog.Record]
}

var _ sdklog.Processor = logProcessor{}

func (p logProcessor) OnEmit(_ context.Context, r *sdklog.Record) error {
	_ = p.batch.Enqueue(r.Clone())
	return nil
}

func (p logProcessor) Shutdown(ctx context.Context) error   { return p.batch.Shutdown(ctx) }
func (p logProcessor) ForceFlush(ctx context.Context) error { return p.batch.ForceFlush(ctx) }

func (p logProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }
