package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry"
)

func TestRequestMetrics_Middleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m, err := newRequestMetrics(tel.MeterProvider())
	require.NoError(t, err)

	e := echo.New()
	e.Use(m.middleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				c.Error(err)
			}
			return nil
		}
	})
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/books/find/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	for _, path := range []string{"/health", "/books/find/7", "/books/find/8", "/nowhere"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	const requests = "shelfd.http.requests_total"
	assert.Equal(t, int64(4), tel.CounterValue(t, requests))
	assert.Equal(t, int64(2), tel.CounterValue(t, requests,
		attribute.String("http.route", "/books/find/:id"),
		attribute.String("http.request.method", http.MethodGet)))
	assert.Zero(t, tel.CounterValue(t, requests, attribute.String("http.route", "/books/find/7")),
		"raw paths must not become labels")
	assert.Equal(t, int64(1), tel.CounterValue(t, requests,
		attribute.Int("http.response.status_code", http.StatusNotFound)))

	assert.Equal(t, uint64(4), tel.HistogramCount(t, "shelfd.http.request_duration_seconds"))
	assert.Equal(t, uint64(1), tel.HistogramCount(t, "shelfd.http.response_size_bytes",
		attribute.String("http.route", "/health")))
	assert.Zero(t, tel.CounterValue(t, "shelfd.http.active_requests"))
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/books/find", "/books/find"},
		{"/books/find/:id", "/books/find/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, routeLabel(tt.path))
		})
	}
}
