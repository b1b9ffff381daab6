package batch

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/shelfd/internal/telemetry/buffer"
)

// ClosedPolicy decides what Enqueue reports after Shutdown.
type ClosedPolicy int

const (
	// Discard drops the record and returns nil.
	Discard ClosedPolicy = iota
	// Reject drops the record and returns ErrPipelineClosed.
	Reject
)

// ParseClosedPolicy maps "discard" and "reject" to a policy.
func ParseClosedPolicy(s string) (ClosedPolicy, error) {
	switch s {
	case "", "discard":
		return Discard, nil
	case "reject":
		return Reject, nil
	default:
		return Discard, fmt.Errorf("unknown after-shutdown policy %q (want discard or reject)", s)
	}
}

// RetryConfig bounds export retries.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config controls buffering, flushing and retry for one Processor.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	ExportTimeout time.Duration
	Retry         RetryConfig
	Overflow      buffer.OverflowPolicy
	BlockTimeout  time.Duration
	AfterShutdown ClosedPolicy
}

// DefaultConfig mirrors the OpenTelemetry batch processor defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     2048,
		BatchSize:     512,
		FlushInterval: 5 * time.Second,
		ExportTimeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
		},
		Overflow:      buffer.DropNew,
		AfterShutdown: Discard,
	}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.BatchSize <= 0 || c.BatchSize > c.QueueSize {
		return fmt.Errorf("batch size must be in 1..%d, got %d", c.QueueSize, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.ExportTimeout <= 0 {
		return fmt.Errorf("export timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals must satisfy 0 < initial <= max")
	}
	if c.Overflow == buffer.Block && c.BlockTimeout <= 0 {
		return fmt.Errorf("block timeout must be positive with the block overflow policy")
	}
	return nil
}
