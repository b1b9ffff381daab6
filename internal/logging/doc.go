// Package logging wraps zap for shelfd.
//
// Every Logger method takes the call's context first:
//
//	logger.Info(ctx, "book created", zap.Int("book.id", b.ID))
//
// Entries go to stdout as JSON (or console text) and, once the telemetry
// pipeline is running, through the otelzap bridge into its LoggerProvider.
// On stdout the context becomes trace_id, span_id and request.id fields:
//
//	{"level":"info","ts":"2026-10-15T10:15:30.000Z","msg":"book created",
//	 "trace_id":"4bf92f3577b34da6a3ce929d0e0e4736","span_id":"00f067aa0ba902b7",
//	 "book.id":1}
//
// On the OTEL path the context becomes the record's context, and the
// pipeline's correlation hook stamps the same IDs before batching.
//
// TraceLevel sits below Debug. Tests use NewTestLogger, which keeps
// entries in memory and offers assertions on messages and fields.
package logging
