// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Store configuration
	Store StoreConfig `mapstructure:"store"`

	// LLM configuration for the extraction capability
	LLM LLMConfig `mapstructure:"llm"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Search configuration
	Search SearchConfig `mapstructure:"search"`

	// Export configuration
	Export ExportConfig `mapstructure:"export"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// StoreConfig holds graph store configuration
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, badger
	Path   string `mapstructure:"path"`   // badger data directory; empty for in-memory badger
}

// LLMConfig holds configuration for the extraction model
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // openai
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// SearchConfig holds retrieval tuning knobs
type SearchConfig struct {
	RankConstant int     `mapstructure:"rank_constant"`
	MaxResults   int     `mapstructure:"max_results"`
	DecayRate    float64 `mapstructure:"decay_rate"`
	MMRLambda    float64 `mapstructure:"mmr_lambda"`
}

// ExportConfig holds snapshot export configuration
type ExportConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("store.driver", "memory")
	viper.SetDefault("store.path", "")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.max_retries", 3)

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.batch_size", 100)

	viper.SetDefault("search.rank_constant", 60)
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.decay_rate", 0.05)
	viper.SetDefault("search.mmr_lambda", 0.5)

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("export.parquet_path", fmt.Sprintf("%s/.graphmem/export", home))
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		if config.LLM.BaseURL == "" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedding.BaseURL == "" {
			config.Embedding.BaseURL = baseURL
		}
	}

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		config.Store.Driver = driver
	}
	if path := os.Getenv("STORE_PATH"); path != "" {
		config.Store.Path = path
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		viper.Set("server.port", port)
	}

	if path := os.Getenv("EXPORT_PARQUET_PATH"); path != "" {
		config.Export.ParquetPath = path
	}
}
