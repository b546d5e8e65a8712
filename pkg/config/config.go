// Package config loads service configuration from a YAML file with
// environment-variable fallbacks for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	// Server holds the HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// LLM holds provider settings.
	LLM LLMConfig `yaml:"llm"`

	// Agent bounds the conversation turn loop.
	Agent AgentConfig `yaml:"agent"`

	// Dataset bounds loaded datasets.
	Dataset DatasetConfig `yaml:"dataset"`

	// Snapshots selects and configures snapshot persistence.
	Snapshots SnapshotConfig `yaml:"snapshots"`

	// Sessions configures session lifecycle.
	Sessions SessionConfig `yaml:"sessions"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig holds provider settings.
type LLMConfig struct {
	// Provider selects the backend: "openai", "anthropic", or "mock".
	Provider string `yaml:"provider"`
	// Model is the model identifier sent with completions.
	Model string `yaml:"model"`
	// APIKey authenticates against the provider. Falls back to
	// OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint (for proxies and
	// compatible servers).
	BaseURL string `yaml:"base_url"`
	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`
	// MaxRetries bounds transport retries per completion.
	MaxRetries int `yaml:"max_retries"`
	// RequestsPerSecond paces completions; zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the rate-limiter burst size.
	Burst int `yaml:"burst"`
}

// AgentConfig bounds the conversation turn loop.
type AgentConfig struct {
	// MaxToolIterations caps tool calls per turn.
	MaxToolIterations int `yaml:"max_tool_iterations"`
	// TurnTimeout is the wall-clock limit per turn.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// DatasetConfig bounds loaded datasets.
type DatasetConfig struct {
	MaxRows int `yaml:"max_rows"`
	MaxCols int `yaml:"max_cols"`
}

// SnapshotConfig selects snapshot persistence.
type SnapshotConfig struct {
	// Backend is "file", "redis", or "memory".
	Backend string `yaml:"backend"`
	// Path is the base directory for the file backend.
	Path string `yaml:"path"`
	// RedisAddr is the redis address for the redis backend.
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword authenticates against redis. Falls back to
	// REDIS_PASSWORD.
	RedisPassword string `yaml:"redis_password"`
	// RedisDB selects the redis database.
	RedisDB int `yaml:"redis_db"`
	// AutoPerTurn captures a snapshot after every mutating turn.
	AutoPerTurn bool `yaml:"auto_per_turn"`
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	// IdleTimeout archives sessions idle for this long; zero disables
	// the janitor.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// JanitorSchedule is the cron spec for the idle sweep.
	JanitorSchedule string `yaml:"janitor_schedule"`
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults with environment fallbacks applied.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.Agent.MaxToolIterations == 0 {
		c.Agent.MaxToolIterations = 10
	}
	if c.Agent.TurnTimeout == 0 {
		c.Agent.TurnTimeout = 2 * time.Minute
	}
	if c.Dataset.MaxRows == 0 {
		c.Dataset.MaxRows = 100_000
	}
	if c.Dataset.MaxCols == 0 {
		c.Dataset.MaxCols = 256
	}
	if c.Snapshots.Backend == "" {
		c.Snapshots.Backend = "file"
	}
	if c.Snapshots.RedisAddr == "" {
		c.Snapshots.RedisAddr = "localhost:6379"
	}
	if c.Sessions.JanitorSchedule == "" {
		c.Sessions.JanitorSchedule = "@every 10m"
	}
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		if c.LLM.Provider == "anthropic" {
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		} else {
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.Snapshots.RedisPassword == "" {
		c.Snapshots.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}
}

// Validate checks for configuration errors that would otherwise only
// show up at request time.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the %s provider", c.LLM.Provider)
		}
	case "mock":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Snapshots.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshots.Backend)
	}

	if c.Agent.MaxToolIterations < 1 {
		return fmt.Errorf("agent.max_tool_iterations must be at least 1")
	}
	if c.Dataset.MaxRows < 1 || c.Dataset.MaxCols < 1 {
		return fmt.Errorf("dataset limits must be positive")
	}
	return nil
}
