// Package config loads the YAML configuration for the coordinator and
// ledger services.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
// Each service owns its own store; DSNs are never shared.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults(defaultDSN string) {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = defaultDSN
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	return nil
}

// BrokerConfig addresses the message broker both services choreograph over.
// Endpoint is unused by the in-memory broker but kept in the config schema
// so a real broker driver can be dropped in without a schema change.
type BrokerConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Partitions int    `yaml:"partitions"`
	QueueSize  int    `yaml:"queueSize"`
}

func (c *BrokerConfig) applyDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// APIServerConfig configures a service's HTTP control surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

func (c APIServerConfig) validate(field string) error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%s addr required", field)
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func loadYAML(path string, out any) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	reader, closer, err := openConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || strings.TrimSpace(path) == "" {
			return false, nil
		}
		return false, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return false, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal config: %w", err)
	}
	return true, nil
}
