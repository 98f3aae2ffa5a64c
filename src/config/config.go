package config

import (
	"fmt"
	"os"

	"tick-relay/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Defaults applied by Validate when the YAML leaves a knob unset.
const (
	DefaultCooldownMinutes = 30
	DefaultMinFields       = 32
	DefaultCloseGraceMs    = 500
	DefaultMarketMIC       = "xkrx"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation and fills defaults.
func (c *Config) Validate() error {
	// Validate App configuration
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = "price"
	}

	// Validate Storage configuration
	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	// Validate Upstream configuration
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream url cannot be empty")
	}
	if c.Upstream.HeartbeatToken == "" {
		return fmt.Errorf("upstream heartbeat token cannot be empty")
	}
	if c.Upstream.MessageType == "" {
		return fmt.Errorf("upstream message type cannot be empty")
	}
	if c.Upstream.MinFields <= 0 {
		c.Upstream.MinFields = DefaultMinFields
	}
	if c.Upstream.CloseGraceMs < 0 {
		return fmt.Errorf("close grace window cannot be negative")
	}
	if c.Upstream.CloseGraceMs == 0 {
		c.Upstream.CloseGraceMs = DefaultCloseGraceMs
	}
	if c.Upstream.ReconcileSeconds <= 0 {
		c.Upstream.ReconcileSeconds = 60
	}
	if c.Upstream.ReconnectRetries <= 0 {
		c.Upstream.ReconnectRetries = 5
	}
	if c.Upstream.ReconnectBaseDelay <= 0 {
		c.Upstream.ReconnectBaseDelay = 1
	}
	if c.Upstream.MarketMIC == "" {
		c.Upstream.MarketMIC = DefaultMarketMIC
	}
	if c.Upstream.IdleRecheckSeconds <= 0 {
		c.Upstream.IdleRecheckSeconds = 60
	}

	// Validate Alerts configuration
	if c.Alerts.CooldownMinutes < 0 {
		return fmt.Errorf("alert cooldown cannot be negative")
	}
	if c.Alerts.CooldownMinutes == 0 {
		c.Alerts.CooldownMinutes = DefaultCooldownMinutes
	}

	// Validate Publisher configuration
	switch c.Publisher.Type {
	case "":
		c.Publisher.Type = "log"
	case "log":
		// No transport settings needed
	case "kafka":
		if len(c.Publisher.Brokers) == 0 {
			return fmt.Errorf("kafka publisher requires at least one broker")
		}
		if c.Publisher.Topic == "" {
			return fmt.Errorf("kafka publisher requires a topic")
		}
	default:
		return fmt.Errorf("unknown publisher type: %s", c.Publisher.Type)
	}

	// Validate Account collaborator configuration
	if c.Account.BaseURL == "" {
		return fmt.Errorf("account service base url cannot be empty")
	}
	if c.Account.RequestTimeout <= 0 {
		return fmt.Errorf("account request timeout must be greater than 0")
	}
	if c.Account.MaxRetries < 0 {
		return fmt.Errorf("account max retries cannot be negative")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
