package config

import (
	"fmt"
	"time"
)

// RefundRetryConfig bounds the exponential-backoff retry of a wallet
// compensation refund before it is quarantined to the dead-letter queue.
type RefundRetryConfig struct {
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
}

func (c *RefundRetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
}

func (c RefundRetryConfig) validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("refundRetry maxAttempts must be >0")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("refundRetry initialBackoff must be >0")
	}
	return nil
}

// LedgerConfig is the unified ledger service configuration sourced from
// YAML, with defaults applied for any field a deployer omits. The defaults
// are the same for every Environment.
type LedgerConfig struct {
	Environment Environment       `yaml:"environment"`
	Database    DatabaseConfig    `yaml:"database"`
	Broker      BrokerConfig      `yaml:"broker"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	APIServer   APIServerConfig   `yaml:"apiServer"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	RefundRetry RefundRetryConfig `yaml:"refundRetry"`
}

func defaultLedgerConfig() LedgerConfig {
	cfg := LedgerConfig{
		Environment: EnvDev,
		APIServer:   APIServerConfig{Addr: ":8082"},
	}
	cfg.normalize()
	return cfg
}

// LoadLedgerOrDefault reads and validates a LedgerConfig from path. A
// missing or empty path yields the all-defaults configuration.
func LoadLedgerOrDefault(path string) (LedgerConfig, error) {
	cfg := defaultLedgerConfig()
	found, err := loadYAML(path, &cfg)
	if err != nil {
		return LedgerConfig{}, err
	}
	if !found {
		return cfg, nil
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return LedgerConfig{}, err
	}
	return cfg, nil
}

func (c *LedgerConfig) normalize() {
	c.Environment = normalizeEnvironment(string(c.Environment))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Database.applyDefaults("postgresql://localhost:5432/moneysaga_ledger")
	c.Broker.applyDefaults()
	c.Outbox.applyDefaults()
	c.RefundRetry.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c LedgerConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.APIServer.validate("apiServer"); err != nil {
		return err
	}
	if err := c.Outbox.validate(); err != nil {
		return err
	}
	if err := c.RefundRetry.validate(); err != nil {
		return err
	}
	return nil
}
