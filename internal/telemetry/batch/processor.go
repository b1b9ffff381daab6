// Package batch exports buffered telemetry records in batches on a
// dedicated background worker.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/buffer"
)

// ErrPipelineClosed is returned by Enqueue after Shutdown under the Reject policy.
var ErrPipelineClosed = errors.New("batch: pipeline closed")

// Drop reasons, used as the "reason" attribute of the dropped counter.
const (
	ReasonOverflow = "overflow"
	ReasonExport   = "export"
	ReasonShutdown = "shutdown"
	ReasonClosed   = "closed"
)

var reasons = []string{ReasonOverflow, ReasonExport, ReasonShutdown, ReasonClosed}

// Exporter sends one batch to a sink.
//
// Export may be abandoned by the processor at its deadline; implementations
// must not modify the batch. A processor never calls Export concurrently,
// even across abandoned attempts.
type Exporter[T any] interface {
	Export(ctx context.Context, batch []T) error
	Shutdown(ctx context.Context) error
}

// ExporterFunc adapts a function to Exporter with a no-op Shutdown.
type ExporterFunc[T any] func(ctx context.Context, batch []T) error

func (f ExporterFunc[T]) Export(ctx context.Context, batch []T) error { return f(ctx, batch) }
func (f ExporterFunc[T]) Shutdown(context.Context) error              { return nil }

// Stats is a point-in-time view of a processor's counters.
type Stats struct {
	Enqueued uint64
	Exported uint64
	Dropped  map[string]uint64
}

// TotalDropped sums drops across reasons.
func (s Stats) TotalDropped() uint64 {
	var n uint64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

type options struct {
	logger *zap.Logger
	meter  metric.Meter
}

// Option configures a Processor.
type Option func(*options)

// WithLogger sets the diagnostic logger. It must not feed back into the
// pipeline being configured.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeter publishes the processor's counters as OTEL instruments.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

type flushRequest struct {
	ctx  context.Context
	done chan error
}

// Processor buffers records and exports them from a single worker.
//
// Flushes happen when the queue reaches the batch size, when the flush
// interval elapses since the last flush, and on ForceFlush. Within one
// processor records are exported in enqueue order.
type Processor[T any] struct {
	name     string
	cfg      Config
	queue    *buffer.Queue[T]
	exporter Exporter[T]
	logger   *zap.Logger
	attrs    attribute.Set

	mu      sync.Mutex
	started bool
	closed  atomic.Bool

	flushReq     chan flushRequest
	exporting    chan struct{}
	stop         chan struct{}
	done         chan struct{}
	workerCtx    context.Context
	cancelWorker context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error

	enqueued atomic.Uint64
	exported atomic.Uint64
	dropped  map[string]*atomic.Uint64

	exportedCounter metric.Int64Counter
	droppedCounter  metric.Int64Counter
}

// New creates a processor exporting to exporter. Call Start to launch the worker.
func New[T any](name string, exporter Exporter[T], cfg Config, opts ...Option) (*Processor[T], error) {
	if exporter == nil {
		return nil, fmt.Errorf("batch %s: exporter cannot be nil", name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("batch %s: %w", name, err)
	}

	o := options{logger: zap.NewNop(), meter: noop.NewMeterProvider().Meter("")}
	for _, opt := range opts {
		opt(&o)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	p := &Processor[T]{
		name:     name,
		cfg:      cfg,
		exporter: exporter,
		logger:   o.logger.With(zap.String("pipeline", name)),
		attrs:    attribute.NewSet(attribute.String("pipeline", name)),
		queue: buffer.New[T](buffer.Config{
			Capacity:     cfg.QueueSize,
			BatchSize:    cfg.BatchSize,
			Policy:       cfg.Overflow,
			BlockTimeout: cfg.BlockTimeout,
		}),
		flushReq:     make(chan flushRequest),
		exporting:    make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		workerCtx:    workerCtx,
		cancelWorker: cancel,
		dropped:      make(map[string]*atomic.Uint64, len(reasons)),
	}
	for _, r := range reasons {
		p.dropped[r] = new(atomic.Uint64)
	}
	p.initMetrics(o.meter)
	return p, nil
}

func (p *Processor[T]) initMetrics(meter metric.Meter) {
	var err error

	p.exportedCounter, err = meter.Int64Counter(
		"shelfd.telemetry.records.exported",
		metric.WithDescription("Telemetry records successfully handed to the collector, labeled by pipeline (traces, logs)."),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		p.logger.Warn("failed to create exported counter", zap.Error(err))
	}

	p.droppedCounter, err = meter.Int64Counter(
		"shelfd.telemetry.records.dropped",
		metric.WithDescription("Telemetry records dropped, labeled by pipeline and reason (overflow, export, shutdown, closed)."),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		p.logger.Warn("failed to create dropped counter", zap.Error(err))
	}

	_, err = meter.Int64ObservableGauge(
		"shelfd.telemetry.queue.length",
		metric.WithDescription("Records waiting in the export queue, labeled by pipeline."),
		metric.WithUnit("{record}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.queue.Len()), metric.WithAttributeSet(p.attrs))
			return nil
		}),
	)
	if err != nil {
		p.logger.Warn("failed to create queue length gauge", zap.Error(err))
	}
}

// Start launches the export worker. It is a no-op after the first call or
// after Shutdown.
func (p *Processor[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed.Load() {
		return
	}
	p.started = true
	go p.run()
}

// Enqueue hands rec to the export queue without blocking on export.
//
// Returns buffer.ErrOverflow when the queue is full, and after Shutdown
// either nil (Discard) or ErrPipelineClosed (Reject). Every rejected
// record is counted as dropped.
func (p *Processor[T]) Enqueue(rec T) error {
	if p.closed.Load() {
		return p.rejectClosed()
	}

	err := p.queue.Enqueue(rec)
	switch {
	case err == nil:
		p.enqueued.Add(1)
		return nil
	case errors.Is(err, buffer.ErrClosed):
		return p.rejectClosed()
	default:
		p.drop(ReasonOverflow, 1)
		return err
	}
}

func (p *Processor[T]) rejectClosed() error {
	p.drop(ReasonClosed, 1)
	if p.cfg.AfterShutdown == Reject {
		return ErrPipelineClosed
	}
	return nil
}

// ForceFlush exports everything currently buffered and waits for it.
func (p *Processor[T]) ForceFlush(ctx context.Context) error {
	if p.closed.Load() {
		return nil
	}

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return p.flush(ctx)
	}

	req := flushRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case p.flushReq <- req:
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker, exports what is left within ctx's deadline,
// and shuts the exporter down. Records that cannot be exported before the
// deadline are counted as dropped. Later calls return the first result.
func (p *Processor[T]) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Processor[T]) shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed.Store(true)
	started := p.started
	p.mu.Unlock()

	p.queue.Close()
	defer p.cancelWorker()

	if started {
		close(p.stop)
		select {
		case <-p.done:
		case <-ctx.Done():
			// The worker is stuck in an export; abandon it.
			p.cancelWorker()
			if n := len(p.queue.Drain()); n > 0 {
				p.drop(ReasonShutdown, n)
				p.logger.Warn("dropped records at shutdown deadline", zap.Int("records", n))
			}
			err := fmt.Errorf("shutdown %s: %w", p.name, ctx.Err())
			if serr := p.shutdownExporter(ctx); serr != nil {
				err = errors.Join(err, serr)
			}
			return err
		}
	}

	err := p.flush(ctx)
	if serr := p.shutdownExporter(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// Stats returns the processor's counters. An export abandoned at its
// deadline settles its records as exported or dropped only when the
// exporter returns, so counts read right after a timed-out Shutdown may
// still change.
func (p *Processor[T]) Stats() Stats {
	s := Stats{
		Enqueued: p.enqueued.Load(),
		Exported: p.exported.Load(),
		Dropped:  make(map[string]uint64, len(p.dropped)),
	}
	for r, v := range p.dropped {
		s.Dropped[r] = v.Load()
	}
	return s
}

// Len returns the number of records waiting for export.
func (p *Processor[T]) Len() int {
	return p.queue.Len()
}

func (p *Processor[T]) run() {
	defer close(p.done)

	timer := time.NewTimer(p.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.queue.Ready():
			// Coalesced signals can outlive the drain that consumed them.
			if p.queue.Len() < p.queue.BatchSize() {
				continue
			}
			_ = p.flush(p.workerCtx)
		case <-timer.C:
			_ = p.flush(p.workerCtx)
		case req := <-p.flushReq:
			req.done <- p.flush(req.ctx)
		}
		timer.Reset(p.cfg.FlushInterval)
	}
}

// flush drains the queue and exports it in batch-size chunks, oldest first.
func (p *Processor[T]) flush(ctx context.Context) error {
	records := p.queue.Drain()
	size := p.queue.BatchSize()

	var errs []error
	for len(records) > 0 {
		n := min(len(records), size)
		if err := p.export(ctx, records[:n]); err != nil {
			errs = append(errs, err)
		}
		records = records[n:]
	}
	return errors.Join(errs...)
}

// export sends one chunk, retrying with exponential backoff until it
// succeeds, attempts run out, or ctx ends.
func (p *Processor[T]) export(ctx context.Context, chunk []T) error {
	if err := ctx.Err(); err != nil {
		p.dropBatch(len(chunk), err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Retry.InitialInterval
	b.MaxInterval = p.cfg.Retry.MaxInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, p.attempt(ctx, chunk)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("export attempt failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", next))
		}),
	)
	if err != nil {
		p.dropBatch(len(chunk), err, zap.Int("attempts", attempts))
		return fmt.Errorf("export %s: %w", p.name, err)
	}

	p.exported.Add(uint64(len(chunk)))
	if p.exportedCounter != nil {
		p.exportedCounter.Add(context.Background(), int64(len(chunk)), metric.WithAttributeSet(p.attrs))
	}
	return nil
}

// attempt runs one export bounded by the export timeout. It returns at the
// deadline even if the exporter ignores its context. At most one Export
// runs at a time: an attempt waits for an abandoned one to return before
// calling the exporter again.
func (p *Processor[T]) attempt(ctx context.Context, chunk []T) error {
	actx, cancel := context.WithTimeout(ctx, p.cfg.ExportTimeout)
	defer cancel()

	select {
	case p.exporting <- struct{}{}:
	case <-actx.Done():
		return actx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		defer func() { <-p.exporting }()
		errCh <- p.exporter.Export(actx, chunk)
	}()

	select {
	case err := <-errCh:
		return err
	case <-actx.Done():
		return actx.Err()
	}
}

func (p *Processor[T]) shutdownExporter(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.exporter.Shutdown(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("shutdown %s exporter: %w", p.name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown %s exporter: %w", p.name, ctx.Err())
	}
}

func (p *Processor[T]) dropBatch(n int, err error, fields ...zap.Field) {
	reason := ReasonExport
	if p.closed.Load() && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		reason = ReasonShutdown
	}
	p.drop(reason, n)
	p.logger.Warn("dropped telemetry batch",
		append([]zap.Field{
			zap.String("reason", reason),
			zap.Int("records", n),
			zap.Error(err),
		}, fields...)...)
}

func (p *Processor[T]) drop(reason string, n int) {
	p.dropped[reason].Add(uint64(n))
	if p.droppedCounter != nil {
		p.droppedCounter.Add(context.Background(), int64(n), metric.WithAttributes(
			attribute.String("pipeline", p.name),
			attribute.String("reason", reason),
		))
	}
}
