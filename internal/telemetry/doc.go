// Package telemetry provides the OpenTelemetry pipeline for shelfd.
//
// # Overview
//
// A Pipeline owns the process's trace, log and metric providers. Spans and
// log records are buffered and exported in batches to an OTLP collector
// (HTTP on 4318 by default, or gRPC on 4317); metrics are served for
// scraping on :8081. Outgoing calls carry W3C trace-context, W3C baggage
// and B3 headers; incoming calls are read in that priority order.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	p, err := telemetry.New(cfg, telemetry.WithLogger(diag))
//	if err != nil {
//	    return err
//	}
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	p.OnShutdown(server.Shutdown)
//	<-p.Done()
//
// Spans and metrics:
//
//	ctx, end := telemetry.StartSpan(ctx, p.Tracer("shelfd/books"), "create")
//	defer end(&err)
//
//	counter, _ := p.Meter("shelfd/books").Int64Counter("books.method.calls")
//	counter.Add(ctx, 1)
//
// Logs go through a logging.Logger built on p.LoggerProvider(); every
// record is stamped with service.name and, inside a span, trace_id and
// span_id.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  service_name: "shelfd"
//	  protocol: "http/protobuf"
//	  collector:
//	    host: "localhost"
//	  traces:
//	    batch_size: 512
//	    flush_interval: "5s"
//	    overflow: "drop_new"
//	  metrics:
//	    addr: ":8081"
//	  propagators: ["tracecontext", "baggage", "b3"]
//	  shutdown:
//	    timeout: "5s"
//
// # Shutdown
//
// SIGINT or SIGTERM drains every pipeline concurrently within the shutdown
// timeout and exits 0, or 1 if the drain reported an error.
// Further signals while draining are ignored.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
