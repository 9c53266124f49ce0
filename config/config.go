package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// LLMProvider defines the configuration of one analyzer provider endpoint.
// APIKeyEnv names the environment variable holding the API key; the resolved
// key is loaded into APIKey at startup and never written back to disk.
type LLMProvider struct {
	APIKey    string `mapstructure:"-"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
}

// RetryConfig bounds the analyzer retry loop.
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	MaxFallbackAttempts int           `mapstructure:"max_fallback_attempts"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	Jitter              bool          `mapstructure:"jitter"`
}

// LLMConfig holds the analyzer capability configuration: the provider map,
// which provider is primary and which one takes over on failure, and the
// retry/timeout policy for calls.
type LLMConfig struct {
	Primary     string                 `mapstructure:"primary"`
	Fallback    string                 `mapstructure:"fallback"`
	Providers   map[string]LLMProvider `mapstructure:"providers"`
	Timeout     time.Duration          `mapstructure:"timeout"`
	Temperature float32                `mapstructure:"temperature"`
	MaxTokens   int                    `mapstructure:"max_tokens"`
	Retry       RetryConfig            `mapstructure:"retry"`
}

// SecurityConfig holds encryption and LGPD retention settings.
type SecurityConfig struct {
	EncryptionKeyEnv string `mapstructure:"encryption_key_env"`
	EncryptionKeyID  string `mapstructure:"encryption_key_id"`
	RetentionDays    int    `mapstructure:"retention_days"`
}

// Config is the application's immutable configuration. It is loaded once in
// main and passed into each component at construction; there is no package
// global.
type Config struct {
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		DSN string `mapstructure:"dsn"` // "memory" or a SQLite file path
	} `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Security SecurityConfig `mapstructure:"security"`
}

// Load reads configuration from config.yaml and the environment.
// Missing config files are tolerated: defaults plus environment variables are
// enough to start the service in development.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../config")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.dsn", "memory")
	viper.SetDefault("llm.primary", "openai")
	viper.SetDefault("llm.timeout", 30*time.Second)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.retry.max_attempts", 3)
	viper.SetDefault("llm.retry.max_fallback_attempts", 2)
	viper.SetDefault("llm.retry.initial_backoff", time.Second)
	viper.SetDefault("llm.retry.max_backoff", 10*time.Second)
	viper.SetDefault("llm.retry.jitter", true)
	viper.SetDefault("security.encryption_key_env", "HEALTH_ENCRYPTION_KEY")
	viper.SetDefault("security.encryption_key_id", "health-service-primary")
	viper.SetDefault("security.retention_days", 365)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("WARN: [Config] Configuration file (config.yaml) not found. Using environment variables and defaults.")
		} else {
			return nil, fmt.Errorf("error reading configuration file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
		log.Printf("INFO: [Config] Server port overridden by environment variable SERVER_PORT: %s", port)
	}

	// Resolve provider API keys from the environment.
	for name, provider := range cfg.LLM.Providers {
		if provider.APIKeyEnv == "" {
			log.Printf("WARN: [Config] Provider '%s' does not name an API key environment variable.", name)
			continue
		}
		if key := os.Getenv(provider.APIKeyEnv); key != "" {
			provider.APIKey = key
			cfg.LLM.Providers[name] = provider
			log.Printf("INFO: [Config] Loaded API key for provider '%s' from environment variable '%s'.", name, provider.APIKeyEnv)
		} else {
			log.Printf("WARN: [Config] API key for provider '%s' (env var '%s') is not set.", name, provider.APIKeyEnv)
		}
	}

	if cfg.LLM.Primary != "" && len(cfg.LLM.Providers) > 0 {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Primary]; !ok {
			return nil, fmt.Errorf("primary LLM provider '%s' is not configured", cfg.LLM.Primary)
		}
	}
	if cfg.LLM.Fallback != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Fallback]; !ok {
			return nil, fmt.Errorf("fallback LLM provider '%s' is not configured", cfg.LLM.Fallback)
		}
	}

	log.Println("INFO: [Config] Configuration loading complete.")
	return &cfg, nil
}

// EncryptionKey decodes the base64 key material from the configured
// environment variable. The key never appears in the configuration file.
func (c *Config) EncryptionKey() ([]byte, error) {
	raw := os.Getenv(c.Security.EncryptionKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("encryption key environment variable '%s' is not set", c.Security.EncryptionKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("encryption key in '%s' is not valid base64: %w", c.Security.EncryptionKeyEnv, err)
	}
	return key, nil
}
