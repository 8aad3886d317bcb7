package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ingest    IngestConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// IngestConfig holds ingestion pipeline configuration
type IngestConfig struct {
	MaxExportSize        int64 // byte cap on a fetched export
	FetchTimeout         time.Duration
	MaxConcurrentIngests int64 // global cap across all profiles
	MatchBatchSize       int
	MessageBatchSize     int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SWIPESTATS_PORT", 8080),
			Host:         getEnv("SWIPESTATS_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvDuration("SWIPESTATS_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SWIPESTATS_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SWIPESTATS_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Path:            getEnv("SWIPESTATS_DB_PATH", "data/swipestats.db"),
			MaxOpenConns:    getEnvInt("SWIPESTATS_MAX_OPEN_CONNS", 1),
			MaxIdleConns:    getEnvInt("SWIPESTATS_MAX_IDLE_CONNS", 1),
			ConnMaxLifetime: getEnvDuration("SWIPESTATS_CONN_MAX_LIFETIME", 1*time.Hour),
		},
		Ingest: IngestConfig{
			MaxExportSize:        getEnvInt64("SWIPESTATS_MAX_EXPORT_SIZE", 104857600), // 100MB
			FetchTimeout:         getEnvDuration("SWIPESTATS_FETCH_TIMEOUT", 60*time.Second),
			MaxConcurrentIngests: int64(getEnvInt("SWIPESTATS_MAX_CONCURRENT_INGESTS", 4)),
			MatchBatchSize:       getEnvInt("SWIPESTATS_MATCH_BATCH_SIZE", 500),
			MessageBatchSize:     getEnvInt("SWIPESTATS_MESSAGE_BATCH_SIZE", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("SWIPESTATS_REQUESTS_PER_MINUTE", 100),
			BurstSize:         getEnvInt("SWIPESTATS_BURST_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("SWIPESTATS_LOG_LEVEL", "info"),
			Format: getEnv("SWIPESTATS_LOG_FORMAT", "json"),
			Output: getEnv("SWIPESTATS_LOG_OUTPUT", "stdout"),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Resolve absolute paths
	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", c.Server.Port)
	}

	if c.Ingest.MaxExportSize <= 0 {
		return fmt.Errorf("max export size must be positive, got %d", c.Ingest.MaxExportSize)
	}
	if c.Ingest.MaxConcurrentIngests <= 0 {
		return fmt.Errorf("max concurrent ingests must be positive, got %d", c.Ingest.MaxConcurrentIngests)
	}
	if c.Ingest.MatchBatchSize <= 0 || c.Ingest.MessageBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive, got %d/%d", c.Ingest.MatchBatchSize, c.Ingest.MessageBatchSize)
	}

	return nil
}

// resolvePaths resolves the database path to an absolute path
func (c *Config) resolvePaths() error {
	var err error

	c.Database.Path, err = filepath.Abs(c.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
