// Package config loads adpilot configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultListenAddr      = "127.0.0.1:8180"
	DefaultModel           = "gpt-4o-mini"
	DefaultModelBaseURL    = "https://api.openai.com/v1"
	DefaultModelTimeout    = 60 * time.Second
	DefaultDatabasePath    = "adpilot.db"
	DefaultMaxRounds       = 100
	DefaultSummaryRounds   = 10
	DefaultMaxRetries      = 3
	DefaultRetryBaseDelay  = time.Second
	DefaultRetryMaxDelay   = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultCreditTimeout   = 10 * time.Second
	DefaultStartingCredits = 100.0
)

// Config is the full adpilot configuration tree.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Model        ModelConfig        `yaml:"model"`
	Credit       CreditConfig       `yaml:"credit"`
	Retry        RetryConfig        `yaml:"retry"`
	Conversation ConversationConfig `yaml:"conversation"`
	Bus          BusConfig          `yaml:"bus"`
	Storage      StorageConfig      `yaml:"storage"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig covers the HTTP API server.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig covers the language-model client used for classification and
// response generation.
type ModelConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CreditConfig covers the external credit service. With an empty BaseURL the
// in-memory service is used, seeded with StartingCredits per user.
type CreditConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	StartingCredits float64       `yaml:"starting_credits"`
	// DeductUpfront reserves credits before execution instead of settling
	// after success.
	DeductUpfront bool `yaml:"deduct_upfront"`
}

// RetryConfig covers the shared backoff strategy.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// ConversationConfig covers history compression thresholds.
type ConversationConfig struct {
	MaxRounds     int `yaml:"max_rounds"`
	SummaryRounds int `yaml:"summary_rounds"`
}

// BusConfig covers the NATS event bus. Disabled unless URL is set.
type BusConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// StorageConfig covers the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// TelemetryConfig covers tracing output.
type TelemetryConfig struct {
	TraceStdout bool `yaml:"trace_stdout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Model: ModelConfig{
			Provider: "openai",
			BaseURL:  DefaultModelBaseURL,
			Model:    DefaultModel,
			Timeout:  DefaultModelTimeout,
		},
		Credit: CreditConfig{
			Timeout:         DefaultCreditTimeout,
			StartingCredits: DefaultStartingCredits,
		},
		Retry: RetryConfig{
			MaxRetries: DefaultMaxRetries,
			BaseDelay:  DefaultRetryBaseDelay,
			MaxDelay:   DefaultRetryMaxDelay,
		},
		Conversation: ConversationConfig{
			MaxRounds:     DefaultMaxRounds,
			SummaryRounds: DefaultSummaryRounds,
		},
		Bus: BusConfig{
			Name: "adpilot",
		},
		Storage: StorageConfig{
			DatabasePath: DefaultDatabasePath,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, then ~/.adpilot/config.yaml, then ./adpilot.yaml, then
// environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".adpilot", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	if err := loadAndMerge(cfg, "adpilot.yaml"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADPILOT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("ADPILOT_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("ADPILOT_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("ADPILOT_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("ADPILOT_CREDIT_BASE_URL"); v != "" {
		cfg.Credit.BaseURL = v
	}
	if v := os.Getenv("ADPILOT_CREDIT_API_KEY"); v != "" {
		cfg.Credit.APIKey = v
	}
	if v := os.Getenv("ADPILOT_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("ADPILOT_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("ADPILOT_TRACE_STDOUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.TraceStdout = b
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr cannot be empty")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model.model cannot be empty")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Conversation.MaxRounds > 0 && c.Conversation.SummaryRounds >= c.Conversation.MaxRounds {
		return fmt.Errorf("conversation.summary_rounds must be below max_rounds")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path cannot be empty")
	}
	return nil
}
