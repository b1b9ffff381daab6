// Package correlation stamps log records with the identity of the active
// span and of the emitting service.
package correlation

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/shelfd/internal/logging"
)

// UnknownService is the service identity used when none is configured.
const UnknownService = "unknown-service"

// ServiceNameEnv is read once at startup for the service identity.
const ServiceNameEnv = "OTEL_SERVICE_NAME"

// ServiceNameFromEnv returns OTEL_SERVICE_NAME, or UnknownService when unset.
func ServiceNameFromEnv() string {
	if name := strings.TrimSpace(os.Getenv(ServiceNameEnv)); name != "" {
		return name
	}
	return UnknownService
}

// Hook is an sdklog.Processor that must be registered ahead of the
// batching processor so the stamped fields are part of the buffered copy.
//
// It does constant work per record and never logs or starts spans.
type Hook struct {
	service log.KeyValue
}

var _ sdklog.Processor = (*Hook)(nil)

// New returns a hook stamping serviceName, or UnknownService if empty.
func New(serviceName string) *Hook {
	if serviceName == "" {
		serviceName = UnknownService
	}
	return &Hook{service: log.String(string(semconv.ServiceNameKey), serviceName)}
}

// ServiceName returns the stamped service identity.
func (h *Hook) ServiceName() string {
	return h.service.Value.AsString()
}

// OnEmit stamps record. The span identity comes from ctx only.
func (h *Hook) OnEmit(ctx context.Context, record *sdklog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		record.AddAttributes(h.service)
		return nil
	}

	record.SetTraceID(sc.TraceID())
	record.SetSpanID(sc.SpanID())
	record.SetTraceFlags(sc.TraceFlags())
	record.AddAttributes(
		h.service,
		log.String(logging.TraceIDKey, sc.TraceID().String()),
		log.String(logging.SpanIDKey, sc.SpanID().String()),
	)
	return nil
}

// Shutdown is a no-op.
func (h *Hook) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op.
func (h *Hook) ForceFlush(context.Context) error { return nil }

// Enabled reports true: the hook never filters records.
func (h *Hook) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }
