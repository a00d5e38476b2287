// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Agent        AgentConfig        `mapstructure:"agent" yaml:"agent"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge" yaml:"knowledge"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// durable persistence; the run stays purely in-memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AgentConfig configures every agent's reasoning loop and its LLM boundary.
type AgentConfig struct {
	MaxIterations   int             `mapstructure:"max_iterations" yaml:"max_iterations"`
	ContextLookback int             `mapstructure:"context_lookback" yaml:"context_lookback"`
	LLM             LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds LLM calls per agent. When the budget is exhausted
// the calling agent's loop suspends until budget is available; other agents
// are unaffected.
type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// OrchestratorConfig controls how agent runs are scheduled.
type OrchestratorConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// KnowledgeConfig points at the directory holding the knowledge pack
// (manifest.yaml plus text blobs), loaded once at agent construction.
type KnowledgeConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LLMProvider identifies a supported model provider.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float64       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fieldwork")
	v.SetDefault("logger.log_file", "fieldwork.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.context_lookback", 30)
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.rate_limit.requests_per_minute", 30.0)
	v.SetDefault("agent.rate_limit.burst", 5)

	// -- Orchestrator --
	v.SetDefault("orchestrator.concurrency", 4)

	// -- Knowledge --
	v.SetDefault("knowledge.dir", "knowledge")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "FIELDWORK_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.ContextLookback <= 0 {
		return fmt.Errorf("agent.context_lookback must be a positive integer")
	}
	if c.Agent.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("agent.rate_limit.requests_per_minute must be positive")
	}
	if c.Agent.RateLimit.Burst <= 0 {
		return fmt.Errorf("agent.rate_limit.burst must be a positive integer")
	}
	if c.Orchestrator.Concurrency <= 0 {
		return fmt.Errorf("orchestrator.concurrency must be a positive integer")
	}
	return nil
}
