// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Timing     TimingConfig     `yaml:"timing"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogsDir       string `yaml:"logs_dir"`
	LedgerPath    string `yaml:"ledger_path"`
	MarketsConfig string `yaml:"markets_config"`
}

// ExchangeConfig contains venue connection settings
type ExchangeConfig struct {
	Name    string  `yaml:"name"`
	BaseURL string  `yaml:"base_url"`
	FeeRate float64 `yaml:"fee_rate"`
}

// TimingConfig contains the engine loop intervals in seconds unless noted
type TimingConfig struct {
	SleepInterval       int `yaml:"sleep_interval"`
	PairDelayMS         int `yaml:"pair_delay_ms"`
	HealthCheckInterval int `yaml:"health_check_interval"` // loop iterations between health checks
	CallTimeout         int `yaml:"call_timeout"`
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SupervisorConfig contains watchdog settings
type SupervisorConfig struct {
	WorkerBin        string `yaml:"worker_bin"`
	CheckInterval    int    `yaml:"check_interval"`
	HeartbeatTimeout int    `yaml:"heartbeat_timeout"`
	SummaryInterval  int    `yaml:"summary_interval"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion. A missing file yields the defaults.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}.Error())
	}
	if c.System.LogsDir == "" {
		errs = append(errs, ValidationError{
			Field:   "system.logs_dir",
			Message: "logs directory is required",
		}.Error())
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate >= 1 {
		errs = append(errs, ValidationError{
			Field:   "exchange.fee_rate",
			Value:   c.Exchange.FeeRate,
			Message: "must be in [0, 1)",
		}.Error())
	}
	if c.Timing.SleepInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timing.sleep_interval",
			Value:   c.Timing.SleepInterval,
			Message: "must be positive",
		}.Error())
	}
	if c.Timing.HealthCheckInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timing.health_check_interval",
			Value:   c.Timing.HealthCheckInterval,
			Message: "must be positive",
		}.Error())
	}
	if c.Supervisor.HeartbeatTimeout <= c.Supervisor.CheckInterval {
		errs = append(errs, ValidationError{
			Field:   "supervisor.heartbeat_timeout",
			Value:   c.Supervisor.HeartbeatTimeout,
			Message: "must exceed the check interval",
		}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// SleepInterval returns the loop pause as a duration
func (c *Config) SleepInterval() time.Duration {
	return time.Duration(c.Timing.SleepInterval) * time.Second
}

// PairDelay returns the gap between the sell and buy legs of a pair
func (c *Config) PairDelay() time.Duration {
	return time.Duration(c.Timing.PairDelayMS) * time.Millisecond
}

// CallTimeout returns the per-call exchange timeout
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Timing.CallTimeout) * time.Second
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the baseline configuration
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:      "INFO",
			LogsDir:       "logs",
			LedgerPath:    "logs/trades.db",
			MarketsConfig: "markets_config.json",
		},
		Exchange: ExchangeConfig{
			Name:    "bithumb",
			BaseURL: "https://api.bithumb.com",
			FeeRate: 0.0004,
		},
		Timing: TimingConfig{
			SleepInterval:       5,
			PairDelayMS:         300,
			HealthCheckInterval: 12,
			CallTimeout:         5,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
		Supervisor: SupervisorConfig{
			WorkerBin:        "./worker",
			CheckInterval:    30,
			HeartbeatTimeout: 120,
			SummaryInterval:  3600,
		},
	}
}
