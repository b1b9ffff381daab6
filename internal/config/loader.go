// Package config provides configuration loading for shelfd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "SHELFD_"
)

// envAliases maps well-known OpenTelemetry variables onto config keys.
// They are applied after SHELFD_* variables and therefore win.
var envAliases = map[string]string{
	"OTEL_SERVICE_NAME":   "telemetry.service_name",
	"OTEL_COLLECTOR_HOST": "telemetry.collector.host",
}

// Load fills target from a YAML file, then from environment variables.
//
// target must be a pointer to a struct that already holds the defaults;
// only keys present in a source overwrite it. Precedence (highest first):
//  1. OTEL_SERVICE_NAME / OTEL_COLLECTOR_HOST
//  2. SHELFD_* environment variables
//  3. YAML config file at path (skipped when path is empty or missing)
//  4. Defaults already in target
//
// Environment variables are mapped by stripping SHELFD_, lowercasing, and
// treating "__" as a nesting separator:
//
//	SHELFD_SERVER__PORT                    -> server.port
//	SHELFD_TELEMETRY__TRACES__BATCH_SIZE   -> telemetry.traces.batch_size
//
// Without "__" the first underscore separates section from field:
//
//	SHELFD_SERVER_PORT -> server.port
//
// If target implements Validator it is validated after loading.
func Load(path string, target any) error {
	k := koanf.New(".")

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Load(env.Provider("OTEL_", ".", func(s string) string {
		return envAliases[s]
	}), nil); err != nil {
		return fmt.Errorf("failed to load OTEL environment variables: %w", err)
	}

	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

// DefaultPath returns ~/.config/shelfd/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "shelfd", "config.yaml")
}

// envKey maps SHELFD_SECTION__FIELD to section.field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	if strings.Contains(lower, "__") {
		return strings.ReplaceAll(lower, "__", ".")
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// loadFile reads and parses the YAML file at path if it exists.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate using the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}

	// Group/world writable files could be swapped under us.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
