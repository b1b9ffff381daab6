package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/batch"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/correlation"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/metrics"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/propagators"
)

const instrumentationName = "github.com/fyrsmithlabs/shelfd/internal/telemetry"

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("telemetry: pipeline already started")

	// ErrNotStarted is returned by Shutdown before Start.
	ErrNotStarted = errors.New("telemetry: pipeline not started")
)

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateUninitialized State = iota
	StateStarted
	StateDraining
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateDraining:
		return "draining"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats reports per-pipeline record counters.
type Stats struct {
	Traces batch.Stats
	Logs   batch.Stats
}

// HealthStatus reports whether every telemetry component came up.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

type options struct {
	spanExporter trace.SpanExporter
	logExporter  sdklog.Exporter
	logger       *zap.Logger
	exit         func(int)
	signals      []os.Signal
	globals      bool
}

// Option configures a Pipeline.
type Option func(*options)

// WithSpanExporter overrides the OTLP trace exporter (for testing).
func WithSpanExporter(exp trace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithLogExporter overrides the OTLP log exporter (for testing).
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) { o.logExporter = exp }
}

// WithLogger sets the pipeline's diagnostic logger. It must not write into
// the pipeline itself.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExitFunc replaces os.Exit after a signal-triggered shutdown.
func WithExitFunc(exit func(int)) Option {
	return func(o *options) { o.exit = exit }
}

// WithSignals sets the signals that trigger shutdown. With no arguments no
// handler is installed.
func WithSignals(sigs ...os.Signal) Option {
	return func(o *options) { o.signals = sigs }
}

// WithoutGlobals keeps Start from installing the OTEL global providers.
func WithoutGlobals() Option {
	return func(o *options) { o.globals = false }
}

// Pipeline owns the process's trace, log and metric providers.
//
// It moves Uninitialized → Started → Draining → Shutdown exactly once.
// Telemetry failures never reach callers after Start: a component that
// cannot be built is left out and the pipeline reports itself degraded.
// Emission after Shutdown is accepted and discarded.
type Pipeline struct {
	config *Config
	opts   options
	logger *zap.Logger

	mu    sync.Mutex
	state State

	tracerProvider *trace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	meterProvider  metric.MeterProvider
	metrics        *metrics.Server
	propagator     propagators.Chain
	hook           *correlation.Hook
	traces         *batch.Processor[trace.ReadOnlySpan]
	logs           *batch.Processor[sdklog.Record]
	closers        []func(context.Context) error

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}

	// notify subscribes to termination signals; replaced in tests.
	notify func(sigs ...os.Signal) (<-chan os.Signal, func())

	degraded atomic.Bool
}

// New validates cfg and returns an uninitialized pipeline.
func New(cfg *Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	o := options{
		logger:  zap.NewNop(),
		exit:    os.Exit,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		globals: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Pipeline{
		config:        cfg,
		opts:          o,
		logger:        o.logger.Named("telemetry"),
		meterProvider: metricnoop.NewMeterProvider(),
		done:          make(chan struct{}),
		notify:        notifySignals,
	}, nil
}

func notifySignals(sigs ...os.Signal) (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sigs...)
	return ch, func() { signal.Stop(ch) }
}

// Start builds and starts every component, installs the propagator chain
// and providers as process-wide state, and installs the signal handler.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateUninitialized {
		return ErrAlreadyStarted
	}

	cfg := p.config
	res := newResource(cfg)

	chain, err := propagators.FromNames(cfg.Propagators)
	if err != nil {
		return fmt.Errorf("propagators: %w", err)
	}
	p.propagator = chain
	p.hook = correlation.New(cfg.ServiceName)

	if cfg.Metrics.Enabled {
		p.startMetrics(res)
	}
	meter := p.meterProvider.Meter(instrumentationName)

	tpOpts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSampler(newSampler(cfg.Sampling.Rate)),
	}
	lpOpts := []sdklog.LoggerProviderOption{
		sdklog.WithResource(res),
		// The hook must precede the batching processor.
		sdklog.WithProcessor(p.hook),
	}

	if cfg.Enabled {
		if traces := p.newTracePipeline(ctx, meter); traces != nil {
			p.traces = traces
			tpOpts = append(tpOpts, trace.WithSpanProcessor(spanProcessor{batch: traces}))
		}
		if logs := p.newLogPipeline(ctx, meter); logs != nil {
			p.logs = logs
			lpOpts = append(lpOpts, sdklog.WithProcessor(logProcessor{batch: logs}))
		}
		if cfg.Insecure && !cfg.isLocalCollector() {
			p.logger.Warn("exporting telemetry in plaintext to a remote collector",
				zap.String("collector", cfg.Endpoint()))
		}
	}

	p.tracerProvider = trace.NewTracerProvider(tpOpts...)
	p.loggerProvider = sdklog.NewLoggerProvider(lpOpts...)

	if p.traces != nil {
		p.traces.Start()
	}
	if p.logs != nil {
		p.logs.Start()
	}

	if p.opts.globals {
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetMeterProvider(p.meterProvider)
		otel.SetTextMapPropagator(p.propagator)
		global.SetLoggerProvider(p.loggerProvider)
	}

	if len(p.opts.signals) > 0 {
		sigCh, stop := p.notify(p.opts.signals...)
		go p.handleSignals(sigCh, stop)
	}

	var metricsAddr string
	if p.metrics != nil {
		metricsAddr = p.metrics.Addr()
	}

	p.state = StateStarted
	p.logger.Info("telemetry pipeline started",
		zap.Bool("export", cfg.Enabled),
		zap.String("protocol", cfg.Protocol),
		zap.String("collector", cfg.Endpoint()),
		zap.String("metrics_addr", metricsAddr),
		zap.Strings("propagators", cfg.Propagators),
	)
	return nil
}

func (p *Pipeline) startMetrics(res *resource.Resource) {
	srv, err := metrics.New(p.config.Metrics.Addr, res, p.logger)
	if err != nil {
		p.setDegraded("metrics endpoint", err)
		return
	}
	p.meterProvider = srv.MeterProvider()
	if err := srv.Start(); err != nil {
		// Instruments still aggregate; only the scrape endpoint is missing.
		p.setDegraded("metrics endpoint", err)
	}
	p.metrics = srv
}

func (p *Pipeline) newTracePipeline(ctx context.Context, meter metric.Meter) *batch.Processor[trace.ReadOnlySpan] {
	exp := p.opts.spanExporter
	if exp == nil {
		var err error
		if exp, err = newSpanExporter(ctx, p.config); err != nil {
			p.setDegraded("trace exporter", err)
			return nil
		}
	}

	cfg, err := p.config.Traces.toBatch()
	if err != nil {
		p.setDegraded("trace pipeline", err)
		return nil
	}
	proc, err := batch.New[trace.ReadOnlySpan]("traces", spanExporter{exp}, cfg,
		batch.WithLogger(p.logger), batch.WithMeter(meter))
	if err != nil {
		p.setDegraded("trace pipeline", err)
		return nil
	}
	return proc
}

func (p *Pipeline) newLogPipeline(ctx context.Context, meter metric.Meter) *batch.Processor[sdklog.Record] {
	exp := p.opts.logExporter
	if exp == nil {
		var err error
		if exp, err = newLogExporter(ctx, p.config); err != nil {
			p.setDegraded("log exporter", err)
			return nil
		}
	}

	cfg, err := p.config.Logs.toBatch()
	if err != nil {
		p.setDegraded("log pipeline", err)
		return nil
	}
	proc, err := batch.New[sdklog.Record]("logs", exp, cfg,
		batch.WithLogger(p.logger), batch.WithMeter(meter))
	if err != nil {
		p.setDegraded("log pipeline", err)
		return nil
	}
	return proc
}

// handleSignals drains on the first signal and exits. Signals that arrive
// once draining has begun are ignored.
func (p *Pipeline) handleSignals(sigCh <-chan os.Signal, stop func()) {
	defer stop()
	for {
		select {
		case sig := <-sigCh:
			if !p.beginDrain() {
				p.logger.Warn("shutdown already in progress, ignoring signal", zap.String("signal", sig.String()))
				continue
			}
			p.logger.Info("received signal, draining telemetry", zap.String("signal", sig.String()))
			go func() {
				code := 0
				if err := p.Shutdown(context.Background()); err != nil {
					p.logger.Error("telemetry drain incomplete", zap.Error(err))
					code = 1
				}
				p.opts.exit(code)
			}()
		case <-p.done:
			return
		}
	}
}

// beginDrain moves Started to Draining and reports whether this call made
// the transition.
func (p *Pipeline) beginDrain() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStarted {
		return false
	}
	p.state = StateDraining
	return true
}

// OnShutdown registers fn to run at the start of Shutdown, before the
// providers drain. Closers run in registration order.
func (p *Pipeline) OnShutdown(fn func(context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closers = append(p.closers, fn)
}

// Shutdown drains every provider concurrently within ctx's deadline, or the
// configured timeout if ctx has none. Concurrent and later calls wait for
// and return the first call's result.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateUninitialized {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.mu.Unlock()
	p.beginDrain()

	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)

		p.mu.Lock()
		p.state = StateShutdown
		p.mu.Unlock()
		close(p.done)
	})
	return p.shutdownErr
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	p.mu.Lock()
	closers := append([]func(context.Context) error(nil), p.closers...)
	p.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// Each provider drains on its own goroutine so a slow trace export
	// cannot delay the log drain.
	var (
		g       errgroup.Group
		results [3]error
	)
	g.Go(func() error {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			results[0] = fmt.Errorf("trace provider shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.loggerProvider.Shutdown(ctx); err != nil {
			results[1] = fmt.Errorf("log provider shutdown: %w", err)
		}
		return nil
	})
	if p.metrics != nil {
		g.Go(func() error {
			results[2] = p.metrics.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()

	errs = append(errs, results[:]...)
	err := errors.Join(errs...)

	stats := p.Stats()
	p.logger.Info("telemetry pipeline shut down",
		zap.Uint64("spans_exported", stats.Traces.Exported),
		zap.Uint64("spans_dropped", stats.Traces.TotalDropped()),
		zap.Uint64("logs_exported", stats.Logs.Exported),
		zap.Uint64("logs_dropped", stats.Logs.TotalDropped()),
		zap.Error(err),
	)
	return err
}

// ForceFlush exports all buffered spans and log records.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	if p.State() != StateStarted {
		return nil
	}

	var errs []error
	if err := p.tracerProvider.ForceFlush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace flush: %w", err))
	}
	if err := p.loggerProvider.ForceFlush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("log flush: %w", err))
	}
	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once Shutdown has finished.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Tracer returns a tracer for the given instrumentation scope.
//
// Before Start it returns the global tracer, which is a no-op by default.
func (p *Pipeline) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	p.mu.Lock()
	tp := p.tracerProvider
	p.mu.Unlock()
	if tp == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return tp.Tracer(name, opts...)
}

// TracerProvider returns the pipeline's tracer provider, or the global one
// before Start.
func (p *Pipeline) TracerProvider() oteltrace.TracerProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return p.tracerProvider
}

// MeterProvider returns the provider backing the metrics endpoint.
func (p *Pipeline) MeterProvider() metric.MeterProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meterProvider
}

// Meter returns a meter for the given instrumentation scope.
func (p *Pipeline) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the provider for the zap OTEL bridge, or nil
// before Start.
func (p *Pipeline) LoggerProvider() log.LoggerProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggerProvider == nil {
		return nil
	}
	return p.loggerProvider
}

// Propagator returns the configured propagator chain.
func (p *Pipeline) Propagator() propagation.TextMapPropagator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.propagator.Len() == 0 {
		return propagators.Default()
	}
	return p.propagator
}

// ServiceName returns the identity stamped on every log record.
func (p *Pipeline) ServiceName() string {
	return p.config.ServiceName
}

// MetricsAddr returns the scrape endpoint address, or "" when disabled.
func (p *Pipeline) MetricsAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics == nil {
		return ""
	}
	return p.metrics.Addr()
}

// Scrape returns the current metrics in the Prometheus text format.
func (p *Pipeline) Scrape(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	srv := p.metrics
	p.mu.Unlock()
	if srv == nil {
		return nil, fmt.Errorf("metrics endpoint disabled")
	}
	return srv.Scrape(ctx)
}

// Stats returns the trace and log pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	if p.traces != nil {
		s.Traces = p.traces.Stats()
	}
	if p.logs != nil {
		s.Logs = p.logs.Stats()
	}
	return s
}

// Health returns the current telemetry health status.
func (p *Pipeline) Health() HealthStatus {
	degraded := p.degraded.Load()
	return HealthStatus{
		Healthy:  p.State() == StateStarted && !degraded,
		Degraded: degraded,
	}
}

// setDegraded marks telemetry as degraded and logs the cause.
func (p *Pipeline) setDegraded(component string, err error) {
	p.degraded.Store(true)
	p.logger.Warn("telemetry component unavailable", zap.String("component", component), zap.Error(err))
}
