// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (KBENGINE_* plus DATABASE_URL, runtime override)
//  2. Config file (~/.kbengine/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Error handling uses sentinel errors so callers can branch with errors.Is,
// wrapped with context via fmt.Errorf("%w: …").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates an unknown embedding provider name.
	ErrInvalidProvider = errors.New("invalid embedding provider")

	// ErrInvalidChunking indicates chunk size/overlap out of range.
	ErrInvalidChunking = errors.New("invalid chunking settings")

	// ErrInvalidThreshold indicates a match threshold outside [-1, 1].
	ErrInvalidThreshold = errors.New("invalid match threshold")

	// ErrInvalidPostgres indicates unusable PostgreSQL settings.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL settings")

	// ErrInvalidBackend indicates an unknown storage backend name.
	ErrInvalidBackend = errors.New("invalid storage backend")
)

// Storage backend names accepted by StorageBackend.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Embedding provider names accepted by Provider.
const (
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config is the resolved application configuration.
type Config struct {
	// Storage
	StorageBackend   string `mapstructure:"storage_backend"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Embedding
	Provider       string  `mapstructure:"embedding_provider"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	OpenAIAPIKey   string  `mapstructure:"openai_api_key"`
	EmbedRate      float64 `mapstructure:"embed_rate"`
	EmbedBurst     int     `mapstructure:"embed_burst"`

	// Ingestion
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	BatchSize    int `mapstructure:"batch_size"`

	// Resolver
	MatchCount      int     `mapstructure:"match_count"`
	MatchThreshold  float64 `mapstructure:"match_threshold"`
	FallbackLimit   int     `mapstructure:"fallback_limit"`
	FallbackOnEmpty bool    `mapstructure:"fallback_on_empty"`

	// Server
	ServerAddr string `mapstructure:"server_addr"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from defaults, the optional config file, and the
// environment, then validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".kbengine"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("KBENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage_backend", BackendPostgres)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "kbengine")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "kbengine")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("embedding_provider", ProviderOpenAI)
	v.SetDefault("embedding_model", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("embed_rate", 0)
	v.SetDefault("embed_burst", 1)

	v.SetDefault("chunk_size", 800)
	v.SetDefault("chunk_overlap", 120)
	v.SetDefault("batch_size", 16)

	v.SetDefault("match_count", 5)
	v.SetDefault("match_threshold", 0)
	v.SetDefault("fallback_limit", 5)
	v.SetDefault("fallback_on_empty", false)

	v.SetDefault("server_addr", "127.0.0.1:3500")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("%w: openai_api_key is required for the openai provider", ErrMissingAPIKey)
		}
	case ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for the googleai provider", ErrMissingAPIKey)
		}
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidProvider, c.Provider, ProviderOpenAI, ProviderGoogleAI)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidChunking, c.BatchSize)
	}

	if c.MatchThreshold < -1 || c.MatchThreshold > 1 {
		return fmt.Errorf("%w: %g is outside [-1, 1]", ErrInvalidThreshold, c.MatchThreshold)
	}

	switch c.StorageBackend {
	case BackendMemory:
		// No connection settings to check.
	case BackendPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgres)
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: postgres_port %d is out of range", ErrInvalidPostgres, c.PostgresPort)
		}
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidBackend, c.StorageBackend, BackendPostgres, BackendMemory)
	}
	return nil
}
