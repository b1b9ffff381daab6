// internal/logging/otel.go
package logging

import (
	"errors"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/shelfd"

var errNoOutputs = errors.New("at least one output must be enabled and available")

// newCore tees the enabled outputs. The OTEL output is skipped when lp is
// nil, so a logger built before the pipeline starts still works.
func newCore(cfg *Config, lp log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core
	if cfg.Output.Stdout {
		cores = append(cores, stdoutCore(cfg))
	}
	if cfg.Output.OTEL && lp != nil {
		cores = append(cores, otelCore(cfg, lp))
	}

	switch len(cores) {
	case 0:
		return nil, errNoOutputs
	case 1:
		return cores[0], nil
	default:
		return zapcore.NewTee(cores...), nil
	}
}

func stdoutCore(cfg *Config) zapcore.Core {
	return newCorrelatingCore(zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stdout), cfg.Level))
}

// otelCore bridges entries into lp. The bridge reads the context field
// itself, so it is not wrapped in a correlating core.
func otelCore(cfg *Config, lp log.LoggerProvider) zapcore.Core {
	bridge := otelzap.NewCore(otelScope,
		otelzap.WithLoggerProvider(lp),
		otelzap.WithSchemaURL(semconv.SchemaURL),
	)
	return &levelFilterCore{Core: bridge, enabler: cfg.Level}
}
