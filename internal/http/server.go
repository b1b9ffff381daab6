// Package http provides the shelfd books API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/shelfd/internal/books"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry"
)

// Telemetry supplies the providers the server instruments requests with.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
	Propagator() propagation.TextMapPropagator
}

// Server provides HTTP endpoints for shelfd.
type Server struct {
	echo    *echo.Echo
	books   *books.Service
	logger  *logging.Logger
	config  *Config
	health  func() telemetry.HealthStatus
	metrics *requestMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// RateLimit caps requests per second per client IP. Zero disables it.
	RateLimit float64 `koanf:"rate_limit"`
}

// NewDefaultConfig returns the default listen address, localhost:3000.
func NewDefaultConfig() *Config {
	return &Config{
		Host: "localhost",
		Port: 3000,
	}
}

// Validate checks the listen address.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Port)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %g", c.RateLimit)
	}
	return nil
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Option configures a Server.
type Option func(*Server)

// WithHealth reports telemetry health on GET /health.
func WithHealth(fn func() telemetry.HealthStatus) Option {
	return func(s *Server) { s.health = fn }
}

// NewServer creates a new HTTP server.
func NewServer(svc *books.Service, tel Telemetry, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("books service cannot be nil")
	}
	if tel == nil {
		return nil, fmt.Errorf("telemetry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics, err := newRequestMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("creating request metrics: %w", err)
	}

	s := &Server{
		echo:    e,
		books:   svc,
		logger:  logger.Named("http"),
		config:  cfg,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("shelfd",
		otelhttp.WithTracerProvider(tel.TracerProvider()),
		otelhttp.WithMeterProvider(tel.MeterProvider()),
		otelhttp.WithPropagators(tel.Propagator()),
	)))
	e.Use(s.metrics.middleware)
	e.Use(s.requestLog)

	s.registerRoutes()
	return s, nil
}

// requestLog names the server span after the route and logs the request
// inside it. Handler errors are rendered here so the span and the log see
// the final status.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(ctx))

		route := routeLabel(c.Path())
		span := trace.SpanFromContext(ctx)
		span.SetName(req.Method + " " + route)
		span.SetAttributes(semconv.HTTPRoute(route))

		if err := next(c); err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	g := s.echo.Group("/books")
	g.POST("/create", s.handleCreate)
	g.GET("/find", s.handleFindAll)
	g.GET("/find/:id", s.handleFindOne)
	g.PUT("/update/:id", s.handleUpdate)
	g.DELETE("/delete/:id", s.handleRemove)
}

// handleHealth reports liveness and telemetry health.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		resp.Telemetry = "healthy"
		if s.health().Degraded {
			resp.Telemetry = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreate(c echo.Context) error {
	var b books.Book
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := s.books.Create(c.Request().Context(), b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleFindAll(c echo.Context) error {
	all, err := s.books.FindAll(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if all == nil {
		all = []books.Book{}
	}
	return c.JSON(http.StatusOK, all)
}

func (s *Server) handleFindOne(c echo.Context) error {
	id, err := bookID(c)
	if err != nil {
		return err
	}
	b, err := s.books.FindOne(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) handleUpdate(c echo.Context) error {
	id, err := bookID(c)
	if err != nil {
		return err
	}
	var p books.Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := s.books.Update(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) handleRemove(c echo.Context) error {
	id, err := bookID(c)
	if err != nil {
		return err
	}
	b, err := s.books.Remove(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func bookID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, books.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, books.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It blocks until the server stops and
// returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
