// Package metrics serves the process's metric aggregates for pull-based
// scraping in the Prometheus text format.
package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"
)

// DefaultAddr is the scrape endpoint's listen address.
const DefaultAddr = ":8081"

// Path is the scrape endpoint's route.
const Path = "/metrics"

// Server owns the meter provider and exposes its aggregates on Path.
//
// There is no flush timer: every scrape reads the SDK's current aggregates
// through the Prometheus reader. Counters are never reset by a scrape.
type Server struct {
	addr     string
	logger   *zap.Logger
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	echo     *echo.Echo

	mu       sync.Mutex
	listener net.Listener
}

// New creates the registry, the OTEL Prometheus reader and the meter
// provider. Go runtime and process collectors are registered alongside.
func New(addr string, res *resource.Resource, logger *zap.Logger) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}

	reader, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus reader: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET(Path, echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
	})))

	return &Server{
		addr:     addr,
		logger:   logger,
		registry: reg,
		provider: sdkmetric.NewMeterProvider(opts...),
		echo:     e,
	}, nil
}

// MeterProvider returns the provider whose instruments are scraped.
func (s *Server) MeterProvider() *sdkmetric.MeterProvider {
	return s.provider
}

// Registry returns the registry backing the endpoint.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start binds the listen address and serves in the background. The port is
// bound before Start returns.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("metrics server already started on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding metrics endpoint %s: %w", s.addr, err)
	}
	s.listener = ln
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics endpoint stopped", zap.Error(err))
		}
	}()

	s.logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()), zap.String("path", Path))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Scrape returns the current aggregates in the Prometheus text format.
func (s *Server) Scrape(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	families, err := s.registry.Gather()
	if err != nil && len(families) == 0 {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if encErr := enc.Encode(mf); encErr != nil {
			return nil, fmt.Errorf("encoding %s: %w", mf.GetName(), encErr)
		}
	}
	return buf.Bytes(), err
}

// Shutdown stops the endpoint and the meter provider.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()

	if started {
		if err := s.echo.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics endpoint shutdown: %w", err))
		}
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
	}
	return errors.Join(errs...)
}
