// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comic-offline/internal/fetch"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	StorageRoot            string        `env:"STORAGE_ROOT" envDefault:"/data/comic-offline"`
	DatabasePath           string        `env:"DATABASE_PATH" envDefault:"comic-offline.db"`
	ServerPort             string        `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel               string        `env:"LOG_LEVEL" envDefault:"info"`
	MaxConcurrentDownloads int           `env:"MAX_CONCURRENT_DOWNLOADS" envDefault:"2"`
	QueueSize              int           `env:"QUEUE_SIZE" envDefault:"100"`
	FetchTimeout           time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchRetryCount        int           `env:"FETCH_RETRY_COUNT" envDefault:"3"`
	UserAgent              string        `env:"USER_AGENT"`
	JobRetention           time.Duration `env:"JOB_RETENTION" envDefault:"720h"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevel := strings.ToLower(c.LogLevel)
	isValidLevel := false
	for _, level := range validLogLevels {
		if logLevel == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid log level %q, must be one of: %v", c.LogLevel, validLogLevels)
	}

	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1, got: %d", c.MaxConcurrentDownloads)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got: %d", c.QueueSize)
	}
	if c.FetchRetryCount < 0 {
		return fmt.Errorf("FETCH_RETRY_COUNT cannot be negative, got: %d", c.FetchRetryCount)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got: %s", c.FetchTimeout)
	}

	// Validate storage root
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT cannot be empty")
	}

	// Clean and validate the path
	cleanPath := filepath.Clean(c.StorageRoot)
	if !filepath.IsAbs(cleanPath) {
		return fmt.Errorf("STORAGE_ROOT must be an absolute path, got: %s", c.StorageRoot)
	}

	// Check if path exists and is a directory (only if it exists)
	if info, err := os.Stat(cleanPath); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("STORAGE_ROOT must be a directory, got file: %s", cleanPath)
		}
	}

	// Update the config with cleaned path
	c.StorageRoot = cleanPath

	return nil
}

// FetchOptions returns the fetch client options for this configuration
func (c *Config) FetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = c.FetchTimeout
	opts.RetryCount = c.FetchRetryCount
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}
