package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/shelfd/internal/books"
	httpserver "github.com/fyrsmithlabs/shelfd/internal/http"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry"
)

// keptSpans keeps exported spans readable after the pipeline shuts down.
type keptSpans struct{ *tracetest.InMemoryExporter }

func (keptSpans) Shutdown(context.Context) error { return nil }

type logSink struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (s *logSink) Export(_ context.Context, rs []sdklog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rs...)
	return nil
}

func (s *logSink) Shutdown(context.Context) error   { return nil }
func (s *logSink) ForceFlush(context.Context) error { return nil }

func (s *logSink) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Body().AsString())
	}
	return out
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testAppConfig(t *testing.T) *appConfig {
	cfg := newAppConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Logging.Output.Stdout = false
	cfg.Telemetry.ServiceName = "shelfd-test"
	cfg.Telemetry.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
	assert.Contains(t, out.String(), "Commit:     unknown")
}

func TestAppConfig_Validate(t *testing.T) {
	cfg := newAppConfig()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = -1
	assert.ErrorContains(t, cfg.Validate(), "server:")

	cfg = newAppConfig()
	cfg.Logging.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "logging:")

	cfg = newAppConfig()
	cfg.Telemetry.Sampling.Rate = 2
	assert.ErrorContains(t, cfg.Validate(), "telemetry:")
}

func TestRun_ServesAndDrainsOnCancel(t *testing.T) {
	cfg := testAppConfig(t)
	spans := keptSpans{tracetest.NewInMemoryExporter()}
	logs := &logSink{}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg,
			telemetry.WithSignals(),
			telemetry.WithoutGlobals(),
			telemetry.WithSpanExporter(spans),
			telemetry.WithLogExporter(logs),
		)
	}()

	base := fmt.Sprintf("http://%s", cfg.Server.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/books/create", "application/json", strings.NewReader(`{"title":"Dune"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	var names []string
	for _, s := range spans.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "POST /books/create")
	assert.Contains(t, names, "books.create")
	assert.Contains(t, logs.bodies(), "creating book")

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "server stopped with the pipeline")
}

func TestRun_FailsWhenPortBusy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testAppConfig(t)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	err = run(context.Background(), cfg,
		telemetry.WithSignals(),
		telemetry.WithoutGlobals(),
		telemetry.WithSpanExporter(tracetest.NewInMemoryExporter()),
		telemetry.WithLogExporter(&logSink{}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server")
}

func newTestAPI(t *testing.T) (*httptest.Server, *telemetry.TestTelemetry) {
	t.Helper()
	tt := telemetry.NewTestTelemetry()
	svc, err := books.NewService(books.NewStore(), tt, nil)
	require.NoError(t, err)
	srv, err := httpserver.NewServer(svc, tt, logging.NewNop(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tt
}

func TestClient_PropagatesTrace(t *testing.T) {
	ts, tt := newTestAPI(t)

	var created books.Book
	traceID, err := newClient(ts.URL).do(context.Background(), http.MethodPost, "/books/create", books.Book{Title: "Emma"}, &created)
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)

	serverSpan := tt.SpanByName("POST /books/create")
	require.NotNil(t, serverSpan)
	assert.Equal(t, traceID, serverSpan.SpanContext().TraceID().String())
	assert.True(t, serverSpan.Parent().IsRemote())
}

func TestClient_ReportsAPIErrors(t *testing.T) {
	ts, _ := newTestAPI(t)

	_, err := newClient(ts.URL).do(context.Background(), http.MethodGet, "/books/find/5", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "book not found")
}

func executeBooks(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"books"}, args...))
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestBooksCmd(t *testing.T) {
	ts, _ := newTestAPI(t)

	out, errOut, err := executeBooks(t, "create", "--title", "Dune", "--author", "Frank Herbert", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, errOut, "trace_id: ")
	var created books.Book
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, books.Book{ID: 1, Title: "Dune", Author: "Frank Herbert"}, created)

	out, _, err = executeBooks(t, "list", "--server", ts.URL)
	require.NoError(t, err)
	var all []books.Book
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 1)

	out, _, err = executeBooks(t, "get", "1", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Dune"`)

	_, _, err = executeBooks(t, "delete", "1", "--server", ts.URL)
	require.NoError(t, err)

	_, _, err = executeBooks(t, "get", "1", "--server", ts.URL)
	assert.ErrorContains(t, err, "status 404")
}

func TestBooksCmd_RejectsBadInput(t *testing.T) {
	_, _, err := executeBooks(t, "get", "abc")
	assert.ErrorContains(t, err, "positive integer")

	_, _, err = executeBooks(t, "create")
	assert.ErrorContains(t, err, "title")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, books.Book{ID: 2, Title: "x"}))
	got, err := io.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": 2,\n  \"title\": \"x\",\n  \"author\": \"\"\n}\n", string(got))
}
