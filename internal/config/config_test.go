package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.MaxSelection)
	assert.Equal(t, 60, cfg.PollMaxAttempts)
	assert.Equal(t, 5, cfg.PollMaxErrors)
	assert.Greater(t, cfg.PollErrorBackoff, cfg.PollInterval)
	assert.Equal(t, "analyze copper price trend", cfg.DefaultQuery)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `base_url: http://analysis.internal:8080
remote_mode: mock
poll_interval: 1s
poll_error_backoff: 4s
poll_max_attempts: 10
max_selection: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://analysis.internal:8080", cfg.BaseURL)
	assert.Equal(t, RemoteMock, cfg.RemoteMode)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 4*time.Second, cfg.PollErrorBackoff)
	assert.Equal(t, 10, cfg.PollMaxAttempts)
	assert.Equal(t, 3, cfg.MaxSelection)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.PollMaxErrors)
	assert.NotEmpty(t, cfg.DownloadDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://from-file:5000\n"), 0o600))

	t.Setenv("TRENDREVIEW_BASE_URL", "http://from-env:5000")
	t.Setenv("TRENDREVIEW_PROXY_PASSWORD", "s3cret")
	t.Setenv("TRENDREVIEW_POLL_MAX_ERRORS", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:5000", cfg.BaseURL)
	assert.Equal(t, "s3cret", cfg.ProxyPassword)
	assert.Equal(t, 9, cfg.PollMaxErrors)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "backoff not longer than interval",
			mutate:  func(c *Config) { c.PollErrorBackoff = c.PollInterval },
			wantErr: "PollErrorBackoff must be greater than PollInterval",
		},
		{
			name:    "immediate first poll",
			mutate:  func(c *Config) { c.PollInitialDelay = 0 },
			wantErr: "PollInitialDelay",
		},
		{
			name:    "unknown remote mode",
			mutate:  func(c *Config) { c.RemoteMode = "grpc" },
			wantErr: "RemoteMode must be one of",
		},
		{
			name:    "zero selection",
			mutate:  func(c *Config) { c.MaxSelection = 0 },
			wantErr: "MaxSelection",
		},
		{
			name:    "relative base url",
			mutate:  func(c *Config) { c.BaseURL = "localhost" },
			wantErr: "BaseURL",
		},
		{
			name:    "bad proxy mode",
			mutate:  func(c *Config) { c.ProxyMode = "socks" },
			wantErr: "ProxyMode",
		},
		{
			name:   "empty proxy mode allowed",
			mutate: func(c *Config) { c.ProxyMode = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.ProxyPassword = "hunter2"
	cfg.S3SecretKey = "topsecret"
	cfg.PollInterval = 2 * time.Second

	require.NoError(t, Save(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "topsecret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, loaded.PollInterval)
	assert.Equal(t, cfg.BaseURL, loaded.BaseURL)
}
