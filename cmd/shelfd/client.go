package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/propagators"
)

// client calls the books API. Every request starts a local trace whose
// context is injected into the request headers, so the server's spans join
// it; the trace ID is returned for lookup in the backend.
type client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
}

func newClient(baseURL string) *client {
	// Spans stay local: the server exports its half of the trace.
	tp := sdktrace.NewTracerProvider()
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithPropagators(propagators.Default()),
			),
		},
		tracer: tp.Tracer("github.com/fyrsmithlabs/shelfd/cmd/shelfd"),
	}
}

// do sends body as JSON and decodes the response into out.
func (c *client) do(ctx context.Context, method, path string, body, out any) (traceID string, err error) {
	ctx, span := c.tracer.Start(ctx, "shelfd "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	traceID = span.SpanContext().TraceID().String()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return traceID, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return traceID, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return traceID, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return traceID, fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return traceID, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return traceID, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return traceID, nil
}
