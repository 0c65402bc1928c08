package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"comic-offline/internal/fetch"

	"github.com/stretchr/testify/require"
)

var configVars = []string{
	"STORAGE_ROOT", "DATABASE_PATH", "SERVER_PORT", "LOG_LEVEL",
	"MAX_CONCURRENT_DOWNLOADS", "QUEUE_SIZE", "FETCH_TIMEOUT",
	"FETCH_RETRY_COUNT", "USER_AGENT", "JOB_RETENTION",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func validConfig() Config {
	return Config{
		StorageRoot:            "/tmp",
		ServerPort:             "8080",
		LogLevel:               "info",
		MaxConcurrentDownloads: 2,
		QueueSize:              100,
		FetchTimeout:           30 * time.Second,
		FetchRetryCount:        3,
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			envVars: map[string]string{
				"STORAGE_ROOT":             "/data/comics",
				"SERVER_PORT":              "9090",
				"LOG_LEVEL":                "debug",
				"MAX_CONCURRENT_DOWNLOADS": "4",
				"FETCH_TIMEOUT":            "10s",
			},
			wantErr: false,
		},
		{
			name:    "defaults applied",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "invalid log level",
			envVars: map[string]string{
				"LOG_LEVEL": "verbose",
			},
			wantErr: true,
		},
		{
			name: "unparsable duration",
			envVars: map[string]string{
				"FETCH_TIMEOUT": "soon",
			},
			wantErr: true,
		},
		{
			name: "relative storage root",
			envVars: map[string]string{
				"STORAGE_ROOT": "comics",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if root, exists := tt.envVars["STORAGE_ROOT"]; exists {
				require.Equal(t, root, cfg.StorageRoot)
			} else {
				require.Equal(t, "/data/comic-offline", cfg.StorageRoot)
			}

			if _, exists := tt.envVars["SERVER_PORT"]; !exists {
				require.Equal(t, "8080", cfg.ServerPort)
			}

			if _, exists := tt.envVars["LOG_LEVEL"]; !exists {
				require.Equal(t, "info", cfg.LogLevel)
			}

			if _, exists := tt.envVars["MAX_CONCURRENT_DOWNLOADS"]; !exists {
				require.Equal(t, 2, cfg.MaxConcurrentDownloads)
			}

			if _, exists := tt.envVars["FETCH_TIMEOUT"]; !exists {
				require.Equal(t, 30*time.Second, cfg.FetchTimeout)
			}

			require.Equal(t, "comic-offline.db", cfg.DatabasePath)
			require.Equal(t, 100, cfg.QueueSize)
			require.Equal(t, 720*time.Hour, cfg.JobRetention)
		})
	}
}

func TestValidate(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "upper case log level",
			modify:  func(c *Config) { c.LogLevel = "WARN" },
			wantErr: false,
		},
		{
			name:    "relative storage root",
			modify:  func(c *Config) { c.StorageRoot = "comics" },
			wantErr: true,
		},
		{
			name:    "empty storage root",
			modify:  func(c *Config) { c.StorageRoot = "" },
			wantErr: true,
		},
		{
			name:    "storage root is a file",
			modify:  func(c *Config) { c.StorageRoot = file },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.MaxConcurrentDownloads = 0 },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.QueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "negative retry count",
			modify:  func(c *Config) { c.FetchRetryCount = -1 },
			wantErr: true,
		},
		{
			name:    "zero fetch timeout",
			modify:  func(c *Config) { c.FetchTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_CleansStorageRoot(t *testing.T) {
	cfg := validConfig()
	cfg.StorageRoot = "/data//comics/"
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/data/comics", cfg.StorageRoot)
}

func TestConfig_FetchOptions(t *testing.T) {
	cfg := validConfig()
	cfg.FetchTimeout = 5 * time.Second
	cfg.FetchRetryCount = 1

	opts := cfg.FetchOptions()
	require.Equal(t, 5*time.Second, opts.Timeout)
	require.Equal(t, 1, opts.RetryCount)
	require.Equal(t, fetch.DefaultUserAgent, opts.UserAgent)

	cfg.UserAgent = "comic-offline/1.0"
	require.Equal(t, "comic-offline/1.0", cfg.FetchOptions().UserAgent)
}
