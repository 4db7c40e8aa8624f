// Package config handles loading, defaulting, and hot-reloading docpipe
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Config is the full docpipe configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Chunking  ChunkingConfig  `mapstructure:"chunking" yaml:"chunking"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`

	// MetadataSchema is an optional JSON Schema file; when set, submitted
	// job metadata must validate against it.
	MetadataSchema string `mapstructure:"metadata_schema" yaml:"metadata_schema,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// PipelineConfig holds worker and stage settings.
type PipelineConfig struct {
	Workers             int `mapstructure:"workers" yaml:"workers"`
	PollIntervalMS      int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	StageTimeoutSeconds int `mapstructure:"stage_timeout_seconds" yaml:"stage_timeout_seconds"`
	ClaimLeaseSeconds   int `mapstructure:"claim_lease_seconds" yaml:"claim_lease_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	MaxChars int `mapstructure:"max_chars" yaml:"max_chars"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "local".
	Provider   string `mapstructure:"provider" yaml:"provider"`
	Model      string `mapstructure:"model" yaml:"model"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
}

// WebhookConfig holds webhook delivery settings.
type WebhookConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxInFlight    int `mapstructure:"max_in_flight" yaml:"max_in_flight"`
}

// RetentionConfig holds terminal-job retention settings.
type RetentionConfig struct {
	CleanupDays int `mapstructure:"cleanup_days" yaml:"cleanup_days"`
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("pipeline", defaults.Pipeline)
	viper.SetDefault("chunking", defaults.Chunking)
	viper.SetDefault("embedding", defaults.Embedding)
	viper.SetDefault("webhook", defaults.Webhook)
	viper.SetDefault("retention", defaults.Retention)

	// Environment variables with DOCPIPE_ prefix
	viper.SetEnvPrefix("DOCPIPE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.docpipe")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docpipe configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
