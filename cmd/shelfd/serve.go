package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/books"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	httpserver "github.com/fyrsmithlabs/shelfd/internal/http"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry"
)

// appConfig is the root of the YAML config file.
type appConfig struct {
	Server    httpserver.Config `koanf:"server"`
	Logging   logging.Config    `koanf:"logging"`
	Telemetry telemetry.Config  `koanf:"telemetry"`
}

func newAppConfig() *appConfig {
	return &appConfig{
		Server:    *httpserver.NewDefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section.
func (c *appConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the books API server",
		Long: `Start the books API server and its telemetry pipeline.

SIGINT or SIGTERM drains buffered telemetry within telemetry.shutdown.timeout
and exits 0, or 1 if the drain did not complete.

Examples:
  # Start with defaults
  shelfd serve

  # Use a config file
  shelfd serve --config /etc/shelfd/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := newAppConfig()
			if err := config.Load(configPath, cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to YAML config file")
	return cmd
}

// run starts the pipeline and the API server and blocks until ctx is
// cancelled or the server fails. In production ctx never ends: the
// pipeline's signal handler drains and exits the process.
func run(ctx context.Context, cfg *appConfig, opts ...telemetry.Option) error {
	diag, err := newDiagnosticLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = diag.Sync() }()

	pipeline, err := telemetry.New(&cfg.Telemetry, append([]telemetry.Option{telemetry.WithLogger(diag)}, opts...)...)
	if err != nil {
		return err
	}
	if err := pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging, pipeline.LoggerProvider())
	if err != nil {
		return errors.Join(fmt.Errorf("failed to initialize logger: %w", err), pipeline.Shutdown(context.Background()))
	}
	defer func() { _ = logger.Sync() }()

	svc, err := books.NewService(books.NewStore(), pipeline, logger)
	if err != nil {
		return errors.Join(err, pipeline.Shutdown(context.Background()))
	}
	srv, err := httpserver.NewServer(svc, pipeline, logger, &cfg.Server, httpserver.WithHealth(pipeline.Health))
	if err != nil {
		return errors.Join(err, pipeline.Shutdown(context.Background()))
	}
	// The server stops accepting requests before the pipeline drains.
	pipeline.OnShutdown(srv.Shutdown)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	logger.Info(ctx, "shelfd started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("metrics_addr", pipeline.MetricsAddr()),
		zap.String("service", pipeline.ServiceName()),
		zap.String("version", version))

	select {
	case <-ctx.Done():
		return pipeline.Shutdown(context.Background())
	case err := <-srvErr:
		diag.Error("http server failed", zap.Error(err))
		return errors.Join(fmt.Errorf("http server: %w", err), pipeline.Shutdown(context.Background()))
	}
}

// newDiagnosticLogger returns the pipeline's own logger. It writes to
// stdout only so pipeline warnings never re-enter the pipeline.
func newDiagnosticLogger(cfg *logging.Config) (*zap.Logger, error) {
	if !cfg.Output.Stdout {
		return zap.NewNop(), nil
	}
	diagCfg := *cfg
	diagCfg.Output.OTEL = false
	l, err := logging.NewLogger(&diagCfg, nil)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}
