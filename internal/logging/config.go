package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and is used for per-record pipeline detail.
const TraceLevel = zapcore.Level(-2)

// ParseLevel parses a level name, case-insensitively, including "trace".
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "trace" {
		return TraceLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// Level is a zapcore.Level that also parses "trace" from config files and
// environment variables.
type Level zapcore.Level

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = Level(lvl)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if zapcore.Level(l) == TraceLevel {
		return []byte("trace"), nil
	}
	return zapcore.Level(l).MarshalText()
}

// Enabled implements zapcore.LevelEnabler.
func (l Level) Enabled(lvl zapcore.Level) bool {
	return zapcore.Level(l).Enabled(lvl)
}

// Config holds logging configuration, loaded from the "logging" section.
type Config struct {
	Level  Level        `koanf:"level"`
	Format string       `koanf:"format"` // json or console
	Output OutputConfig `koanf:"output"`

	// Caller adds the calling file and line to every entry.
	Caller bool `koanf:"caller"`
	// StacktraceLevel is the lowest level that captures a stack trace.
	StacktraceLevel Level `koanf:"stacktrace_level"`

	// Fields are added to every entry, e.g. deployment.environment.
	Fields map[string]string `koanf:"fields"`
}

// OutputConfig selects the sinks. OTEL routes entries through the
// telemetry pipeline's log provider.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Level:           Level(zapcore.InfoLevel),
		Format:          "json",
		Output:          OutputConfig{Stdout: true, OTEL: true},
		Caller:          true,
		StacktraceLevel: Level(zapcore.ErrorLevel),
		Fields:          map[string]string{},
	}
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be 'json' or 'console', got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		errs = append(errs, errors.New("at least one output must be enabled (stdout or otel)"))
	}
	for name, lvl := range map[string]Level{"level": c.Level, "stacktrace_level": c.StacktraceLevel} {
		if zapcore.Level(lvl) < TraceLevel || zapcore.Level(lvl) > zapcore.FatalLevel {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, lvl))
		}
	}
	for k, v := range c.Fields {
		switch {
		case k == "":
			errs = append(errs, errors.New("field key cannot be empty"))
		case v == "":
			errs = append(errs, fmt.Errorf("field %q has empty value", k))
		}
	}
	return errors.Join(errs...)
}
