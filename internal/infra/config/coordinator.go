package config

import (
	"fmt"
	"time"
)

// OutboxConfig sizes the poll-and-publish loop shared by both services.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

func (c *OutboxConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

func (c OutboxConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("outbox pollInterval must be >0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("outbox batchSize must be >0")
	}
	return nil
}

// TimeoutScannerConfig sizes the coordinator's stuck-transfer sweep.
type TimeoutScannerConfig struct {
	Period time.Duration `yaml:"period"`
}

func (c *TimeoutScannerConfig) applyDefaults() {
	if c.Period <= 0 {
		c.Period = 10 * time.Second
	}
}

func (c TimeoutScannerConfig) validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("timeoutScanner period must be >0")
	}
	return nil
}

// CoordinatorConfig is the unified coordinator service configuration
// sourced from YAML, with defaults applied for any field a deployer omits.
// The defaults are the same for every Environment.
type CoordinatorConfig struct {
	Environment    Environment          `yaml:"environment"`
	Database       DatabaseConfig       `yaml:"database"`
	Broker         BrokerConfig         `yaml:"broker"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	APIServer      APIServerConfig      `yaml:"apiServer"`
	Outbox         OutboxConfig         `yaml:"outbox"`
	TimeoutScanner TimeoutScannerConfig `yaml:"timeoutScanner"`
	// SagaTimeout is how long after initiation a transfer is considered
	// stuck if it hasn't reached a terminal state.
	SagaTimeout time.Duration `yaml:"sagaTimeout"`
}

func defaultCoordinatorConfig() CoordinatorConfig {
	cfg := CoordinatorConfig{
		Environment: EnvDev,
		APIServer:   APIServerConfig{Addr: ":8081"},
		SagaTimeout: 60 * time.Second,
	}
	cfg.normalize()
	return cfg
}

// LoadCoordinatorOrDefault reads and validates a CoordinatorConfig from
// path. A missing or empty path yields the all-defaults configuration.
func LoadCoordinatorOrDefault(path string) (CoordinatorConfig, error) {
	cfg := defaultCoordinatorConfig()
	found, err := loadYAML(path, &cfg)
	if err != nil {
		return CoordinatorConfig{}, err
	}
	if !found {
		return cfg, nil
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return CoordinatorConfig{}, err
	}
	return cfg, nil
}

func (c *CoordinatorConfig) normalize() {
	c.Environment = normalizeEnvironment(string(c.Environment))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Database.applyDefaults("postgresql://localhost:5432/moneysaga_coordinator")
	c.Broker.applyDefaults()
	c.Outbox.applyDefaults()
	c.TimeoutScanner.applyDefaults()
	if c.SagaTimeout <= 0 {
		c.SagaTimeout = 60 * time.Second
	}
}

// Validate performs semantic validation on the configuration.
func (c CoordinatorConfig) Validate() error {
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
	if err := c.TimeoutScanner.validate(); err != nil {
		return err
	}
	if c.SagaTimeout <= 0 {
		return fmt.Errorf("sagaTimeout must be >0")
	}
	return nil
}
