package books

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/shelfd/internal/books"

// Telemetry supplies the tracer and meter the service records with.
// Both *telemetry.Pipeline and *telemetry.TestTelemetry satisfy it.
type Telemetry interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
}

// Service implements the book operations. Every call runs in its own span,
// increments shelfd.books.method.calls and writes one log line correlated
// with that span.
type Service struct {
	store  *Store
	tracer trace.Tracer
	calls  metric.Int64Counter
	logger *logging.Logger
}

// NewService creates a service over store.
func NewService(store *Store, tel Telemetry, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if tel == nil {
		return nil, fmt.Errorf("telemetry is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	meter := tel.Meter(instrumentationName)
	calls, err := meter.Int64Counter(
		"shelfd.books.method.calls",
		metric.WithDescription("Book service calls labeled by method."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating method counter: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		"shelfd.books.stored",
		metric.WithDescription("Number of books currently in the catalogue."),
		metric.WithUnit("{book}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(store.Len()))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stored gauge: %w", err)
	}

	return &Service{
		store:  store,
		tracer: tel.Tracer(instrumentationName),
		calls:  calls,
		logger: logger.Named("books"),
	}, nil
}

func (s *Service) begin(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, end := telemetry.StartSpan(ctx, s.tracer, "books."+method, attrs...)
	s.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	return ctx, end
}

// Create validates b and stores it under a new ID.
func (s *Service) Create(ctx context.Context, b Book) (_ Book, err error) {
	ctx, end := s.begin(ctx, "create", attribute.String("book.title", b.Title))
	defer end(&err)

	s.logger.Info(ctx, "creating book", zap.String("title", b.Title), zap.String("author", b.Author))
	if err := b.Validate(); err != nil {
		return Book{}, err
	}
	created := s.store.Create(b)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("book.id", created.ID))
	return created, nil
}

// FindAll returns every book in creation order.
func (s *Service) FindAll(ctx context.Context) (_ []Book, err error) {
	ctx, end := s.begin(ctx, "findAll")
	defer end(&err)

	all := s.store.List()
	s.logger.Info(ctx, "finding all books", zap.Int("count", len(all)))
	return all, nil
}

// FindOne returns the book with the given ID, or ErrNotFound.
func (s *Service) FindOne(ctx context.Context, id int) (_ Book, err error) {
	ctx, end := s.begin(ctx, "findOne", attribute.Int("book.id", id))
	defer end(&err)

	s.logger.Info(ctx, "finding book", zap.Int("id", id))
	b, ok := s.store.Get(id)
	if !ok {
		return Book{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return b, nil
}

// Update merges p into the stored book. The merged book must still be valid.
func (s *Service) Update(ctx context.Context, id int, p Patch) (_ Book, err error) {
	ctx, end := s.begin(ctx, "update", attribute.Int("book.id", id))
	defer end(&err)

	s.logger.Info(ctx, "updating book", zap.Int("id", id))
	updated, err := s.store.Update(id, func(b Book) (Book, error) {
		merged := p.apply(b)
		if err := merged.Validate(); err != nil {
			return Book{}, err
		}
		return merged, nil
	})
	if err != nil {
		return Book{}, fmt.Errorf("book %d: %w", id, err)
	}
	return updated, nil
}

// Remove deletes and returns the book with the given ID.
func (s *Service) Remove(ctx context.Context, id int) (_ Book, err error) {
	ctx, end := s.begin(ctx, "remove", attribute.Int("book.id", id))
	defer end(&err)

	s.logger.Info(ctx, "removing book", zap.Int("id", id))
	b, ok := s.store.Delete(id)
	if !ok {
		return Book{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return b, nil
}
