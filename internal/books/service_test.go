package books

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry"
)

func newTestService(t *testing.T) (*Service, *telemetry.TestTelemetry, *logging.TestLogger) {
	t.Helper()
	tt := telemetry.NewTestTelemetry()
	tl := logging.NewTestLogger()

	svc, err := NewService(NewStore(), tt, tl.Logger)
	require.NoError(t, err)
	return svc, tt, tl
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(nil, telemetry.NewTestTelemetry(), nil)
	assert.ErrorContains(t, err, "store is required")

	_, err = NewService(NewStore(), nil, nil)
	assert.ErrorContains(t, err, "telemetry is required")

	svc, err := NewService(NewStore(), telemetry.NewTestTelemetry(), nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.logger)
}

func TestService_CreateIsInstrumented(t *testing.T) {
	svc, tt, tl := newTestService(t)

	created, err := svc.Create(context.Background(), Book{Title: "Dune", Author: "Herbert"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)

	span := tt.SpanByName("books.create")
	require.NotNil(t, span)
	tt.AssertSpanAttribute(t, "books.create", "book.title", "Dune")
	tt.AssertSpanAttribute(t, "books.create", "book.id", int64(1))
	assert.Equal(t, codes.Unset, span.Status().Code)

	assert.Equal(t, int64(1), tt.CounterValue(t, "shelfd.books.method.calls", attribute.String("method", "create")))

	tl.AssertTraceCorrelation(t, "creating book",
		span.SpanContext().TraceID().String(),
		span.SpanContext().SpanID().String())
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	svc, tt, _ := newTestService(t)

	_, err := svc.Create(context.Background(), Book{Author: "nobody"})
	require.ErrorIs(t, err, ErrInvalid)

	span := tt.SpanByName("books.create")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Empty(t, svc.store.List())
}

func TestService_FindOne(t *testing.T) {
	svc, tt, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, Book{Title: "Emma"})
	require.NoError(t, err)

	got, err := svc.FindOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Emma", got.Title)

	_, err = svc.FindOne(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, int64(2), tt.CounterValue(t, "shelfd.books.method.calls", attribute.String("method", "findOne")))
}

func TestService_FindAll(t *testing.T) {
	svc, _, tl := newTestService(t)
	ctx := context.Background()

	all, err := svc.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, _ = svc.Create(ctx, Book{Title: "a"})
	_, _ = svc.Create(ctx, Book{Title: "b"})

	all, err = svc.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	tl.AssertField(t, "finding all books", "count", int64(2))
}

func TestService_Update(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, Book{Title: "Dune", Author: "Herbert"})
	require.NoError(t, err)

	year := 1965
	updated, err := svc.Update(ctx, 1, Patch{Year: &year})
	require.NoError(t, err)
	assert.Equal(t, Book{ID: 1, Title: "Dune", Author: "Herbert", Year: 1965}, updated)

	empty := ""
	_, err = svc.Update(ctx, 1, Patch{Title: &empty})
	assert.ErrorIs(t, err, ErrInvalid)

	got, err := svc.FindOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)

	_, err = svc.Update(ctx, 9, Patch{Year: &year})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Remove(t *testing.T) {
	svc, tt, tl := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, Book{Title: "Dune"})

	removed, err := svc.Remove(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Dune", removed.Title)

	_, err = svc.Remove(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, int64(2), tt.CounterValue(t, "shelfd.books.method.calls", attribute.String("method", "remove")))
	tl.AssertLogged(t, zapcore.InfoLevel, "removing book")
}

func TestService_ChildOfCallerSpan(t *testing.T) {
	svc, tt, _ := newTestService(t)

	ctx, parent := tt.Tracer("test").Start(context.Background(), "GET /books/find")
	_, err := svc.FindAll(ctx)
	require.NoError(t, err)
	parent.End()

	child := tt.SpanByName("books.findAll")
	require.NotNil(t, child)
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
}

func TestService_StoredGauge(t *testing.T) {
	svc, tt, _ := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, Book{Title: "a"})
	_, _ = svc.Create(ctx, Book{Title: "b"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, tt.MetricReader.Collect(ctx, &rm))

	var value int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && m.Name == "shelfd.books.stored" {
				require.Len(t, g.DataPoints, 1)
				value = g.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(2), value)
}
