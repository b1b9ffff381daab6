package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/fyrsmithlabs/shelfd/internal/http"

// requestMetrics records per-route request counts, latency and response
// sizes. Attributes carry the route template, never the raw path.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

func newRequestMetrics(mp metric.MeterProvider) (*requestMetrics, error) {
	meter := mp.Meter(meterName)
	var (
		m                                    requestMetrics
		errReq, errDur, errSize, errInflight error
	)
	m.requests, errReq = meter.Int64Counter("shelfd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	m.duration, errDur = meter.Float64Histogram("shelfd.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	m.size, errSize = meter.Int64Histogram("shelfd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status code."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 16384, 65536),
	)
	m.inflight, errInflight = meter.Int64UpDownCounter("shelfd.http.active_requests",
		metric.WithDescription("HTTP requests currently being served."),
		metric.WithUnit("{request}"),
	)
	if err := errors.Join(errReq, errDur, errSize, errInflight); err != nil {
		return nil, err
	}
	return &m, nil
}

// middleware records one observation per request once the handler chain
// has produced its final status.
func (m *requestMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		m.inflight.Add(ctx, 1)
		defer m.inflight.Add(ctx, -1)

		err := next(c)

		res := c.Response()
		attrs := metric.WithAttributeSet(attribute.NewSet(
			semconv.HTTPRequestMethodKey.String(c.Request().Method),
			semconv.HTTPRoute(routeLabel(c.Path())),
			semconv.HTTPResponseStatusCode(res.Status),
		))
		m.requests.Add(ctx, 1, attrs)
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.size.Record(ctx, res.Size, attrs)
		return err
	}
}

// routeLabel returns the route template echo matched. Requests that
// matched nothing share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
