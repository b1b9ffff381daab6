// Package telemetry provides the OpenTelemetry pipeline for shelfd.
package telemetry

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/batch"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/buffer"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/correlation"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/metrics"
	"github.com/fyrsmithlabs/shelfd/internal/telemetry/propagators"
)

// OTLP transport protocols.
const (
	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool            `koanf:"enabled"`
	ServiceName    string          `koanf:"service_name"`
	ServiceVersion string          `koanf:"service_version"`
	Protocol       string          `koanf:"protocol"`
	Collector      CollectorConfig `koanf:"collector"`
	Insecure       bool            `koanf:"insecure"`        // Plaintext transport to the collector
	TLSSkipVerify  bool            `koanf:"tls_skip_verify"` // Accept collector certs from internal CAs
	Traces         BatchConfig     `koanf:"traces"`
	Logs           BatchConfig     `koanf:"logs"`
	Metrics        MetricsConfig   `koanf:"metrics"`
	Propagators    []string        `koanf:"propagators"`
	Sampling       SamplingConfig  `koanf:"sampling"`
	Shutdown       ShutdownConfig  `koanf:"shutdown"`
}

// CollectorConfig locates the OTLP collector.
type CollectorConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"` // 0 selects 4318 (HTTP) or 4317 (gRPC)
}

// BatchConfig controls one batching pipeline (traces or logs).
type BatchConfig struct {
	QueueSize     int             `koanf:"queue_size"`
	BatchSize     int             `koanf:"batch_size"`
	FlushInterval config.Duration `koanf:"flush_interval"`
	ExportTimeout config.Duration `koanf:"export_timeout"`
	MaxAttempts   int             `koanf:"max_attempts"`
	RetryInitial  config.Duration `koanf:"retry_initial"`
	RetryMax      config.Duration `koanf:"retry_max"`
	Overflow      string          `koanf:"overflow"`       // drop_new or block
	BlockTimeout  config.Duration `koanf:"block_timeout"`  // with overflow=block
	AfterShutdown string          `koanf:"after_shutdown"` // discard or reject
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0, default 1.0
}

// MetricsConfig controls the scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultBatchConfig returns the OpenTelemetry batch processor defaults.
func NewDefaultBatchConfig() BatchConfig {
	d := batch.DefaultConfig()
	return BatchConfig{
		QueueSize:     d.QueueSize,
		BatchSize:     d.BatchSize,
		FlushInterval: config.Duration(d.FlushInterval),
		ExportTimeout: config.Duration(d.ExportTimeout),
		MaxAttempts:   d.Retry.MaxAttempts,
		RetryInitial:  config.Duration(d.Retry.InitialInterval),
		RetryMax:      config.Duration(d.Retry.MaxInterval),
		Overflow:      buffer.DropNew.String(),
		BlockTimeout:  config.Duration(100 * time.Millisecond),
		AfterShutdown: "discard",
	}
}

// NewDefaultConfig returns telemetry defaults for a collector on localhost.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		ServiceName:    correlation.UnknownService,
		ServiceVersion: "0.1.0",
		Protocol:       ProtocolHTTP,
		Collector:      CollectorConfig{Host: "localhost"},
		Insecure:       true, // The collector speaks plain HTTP on 4318 by default
		Traces:         NewDefaultBatchConfig(),
		Logs:           NewDefaultBatchConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    metrics.DefaultAddr,
		},
		Propagators: append([]string(nil), propagators.DefaultNames...),
		Sampling:    SamplingConfig{Rate: 1.0},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}

	if _, err := propagators.FromNames(c.Propagators); err != nil {
		return fmt.Errorf("propagators: %w", err)
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}

	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}

	if !c.Enabled {
		return nil
	}

	switch c.Protocol {
	case ProtocolHTTP, ProtocolGRPC:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolHTTP, ProtocolGRPC, c.Protocol)
	}

	if c.Collector.Host == "" {
		return fmt.Errorf("collector.host is required when telemetry is enabled")
	}
	if c.Collector.Port < 0 || c.Collector.Port > 65535 {
		return fmt.Errorf("collector.port must be between 0 and 65535, got %d", c.Collector.Port)
	}

	if _, err := c.Traces.toBatch(); err != nil {
		return fmt.Errorf("traces: %w", err)
	}
	if _, err := c.Logs.toBatch(); err != nil {
		return fmt.Errorf("logs: %w", err)
	}
	return nil
}

// Endpoint returns the collector's host:port for the configured protocol.
func (c *Config) Endpoint() string {
	port := c.Collector.Port
	if port == 0 {
		port = 4318
		if c.Protocol == ProtocolGRPC {
			port = 4317
		}
	}
	return net.JoinHostPort(c.Collector.Host, strconv.Itoa(port))
}

// TracesURL returns the OTLP/HTTP trace endpoint.
func (c *Config) TracesURL() string {
	return c.scheme() + "://" + c.Endpoint() + "/v1/traces"
}

// LogsURL returns the OTLP/HTTP log endpoint.
func (c *Config) LogsURL() string {
	return c.scheme() + "://" + c.Endpoint() + "/v1/logs"
}

func (c *Config) scheme() string {
	if c.Insecure {
		return "http"
	}
	return "https"
}

// isLocalCollector reports whether the collector host is a loopback address.
func (c *Config) isLocalCollector() bool {
	host := strings.TrimSuffix(strings.TrimPrefix(c.Collector.Host, "["), "]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (b BatchConfig) toBatch() (batch.Config, error) {
	overflow, err := buffer.ParseOverflowPolicy(b.Overflow)
	if err != nil {
		return batch.Config{}, err
	}
	after, err := batch.ParseClosedPolicy(b.AfterShutdown)
	if err != nil {
		return batch.Config{}, err
	}

	cfg := batch.Config{
		QueueSize:     b.QueueSize,
		BatchSize:     b.BatchSize,
		FlushInterval: b.FlushInterval.Duration(),
		ExportTimeout: b.ExportTimeout.Duration(),
		Retry: batch.RetryConfig{
			MaxAttempts:     b.MaxAttempts,
			InitialInterval: b.RetryInitial.Duration(),
			MaxInterval:     b.RetryMax.Duration(),
		},
		Overflow:      overflow,
		BlockTimeout:  b.BlockTimeout.Duration(),
		AfterShutdown: after,
	}
	if err := cfg.Validate(); err != nil {
		return batch.Config{}, err
	}
	return cfg, nil
}
