// Package config loads trendreview settings from defaults, a YAML file,
// a .env file and TRENDREVIEW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/trendreview/trendreview/internal/constants"
)

// Remote modes
const (
	RemoteHTTP = "http"
	RemoteMock = "mock"
)

// Config holds the effective client configuration.
type Config struct {
	// Backend
	BaseURL      string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	RemoteMode   string `mapstructure:"remote_mode" yaml:"remote_mode" validate:"oneof=http mock"`
	DefaultQuery string `mapstructure:"default_query" yaml:"default_query"`

	// Selection
	MaxSelection int `mapstructure:"max_selection" yaml:"max_selection" validate:"min=1"`

	// Polling budget
	PollInitialDelay time.Duration `mapstructure:"poll_initial_delay" yaml:"poll_initial_delay" validate:"gt=0"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	PollErrorBackoff time.Duration `mapstructure:"poll_error_backoff" yaml:"poll_error_backoff" validate:"gtfield=PollInterval"`
	PollMaxAttempts  int           `mapstructure:"poll_max_attempts" yaml:"poll_max_attempts" validate:"min=1"`
	PollMaxErrors    int           `mapstructure:"poll_max_errors" yaml:"poll_max_errors" validate:"min=1"`

	// Artifact export
	DownloadDir     string `mapstructure:"download_dir" yaml:"download_dir"`
	ArtifactRetries int    `mapstructure:"artifact_retries" yaml:"artifact_retries" validate:"min=0"`
	ArtifactWorkers int    `mapstructure:"artifact_workers" yaml:"artifact_workers" validate:"min=1,max=32"`

	// Proxy settings
	ProxyMode     string `mapstructure:"proxy_mode" yaml:"proxy_mode" validate:"omitempty,oneof=no-proxy system basic ntlm"`
	ProxyHost     string `mapstructure:"proxy_host" yaml:"proxy_host,omitempty"`
	ProxyPort     int    `mapstructure:"proxy_port" yaml:"proxy_port,omitempty" validate:"min=0,max=65535"`
	ProxyUser     string `mapstructure:"proxy_user" yaml:"proxy_user,omitempty"`
	ProxyPassword string `mapstructure:"proxy_password" yaml:"-"` // never written to disk
	NoProxy       string `mapstructure:"no_proxy" yaml:"no_proxy,omitempty"`
	ProxyWarmup   bool   `mapstructure:"proxy_warmup" yaml:"proxy_warmup,omitempty"`

	// S3 export sink
	S3Region    string `mapstructure:"s3_region" yaml:"s3_region,omitempty"`
	S3Endpoint  string `mapstructure:"s3_endpoint" yaml:"s3_endpoint,omitempty"`
	S3AccessKey string `mapstructure:"s3_access_key" yaml:"s3_access_key,omitempty"`
	S3SecretKey string `mapstructure:"s3_secret_key" yaml:"-"`

	// Azure export sink
	AzureAccountURL string `mapstructure:"azure_account_url" yaml:"azure_account_url,omitempty"`
	AzureSASToken   string `mapstructure:"azure_sas_token" yaml:"-"`

	// Mock remote / dev server
	MockRunningPolls int `mapstructure:"mock_running_polls" yaml:"mock_running_polls" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:          constants.DefaultBaseURL,
		RemoteMode:       RemoteHTTP,
		DefaultQuery:     constants.DefaultQuery,
		MaxSelection:     constants.MaxSelection,
		PollInitialDelay: constants.PollInitialDelay,
		PollInterval:     constants.PollInterval,
		PollErrorBackoff: constants.PollErrorBackoff,
		PollMaxAttempts:  constants.PollMaxAttempts,
		PollMaxErrors:    constants.PollMaxErrors,
		DownloadDir:      DefaultDownloadDir(),
		ArtifactRetries:  constants.ArtifactRetries,
		ArtifactWorkers:  constants.ArtifactWorkers,
		ProxyMode:        "no-proxy",
		MockRunningPolls: constants.DevServerRunningPolls,
	}
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A missing config file is not an error;
// an unreadable or malformed one is.
func Load(cfgFile string) (*Config, error) {
	// .env only fills variables that are not already set
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("remote_mode", d.RemoteMode)
	v.SetDefault("default_query", d.DefaultQuery)
	v.SetDefault("max_selection", d.MaxSelection)
	v.SetDefault("poll_initial_delay", d.PollInitialDelay)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("poll_error_backoff", d.PollErrorBackoff)
	v.SetDefault("poll_max_attempts", d.PollMaxAttempts)
	v.SetDefault("poll_max_errors", d.PollMaxErrors)
	v.SetDefault("download_dir", d.DownloadDir)
	v.SetDefault("artifact_retries", d.ArtifactRetries)
	v.SetDefault("artifact_workers", d.ArtifactWorkers)
	v.SetDefault("proxy_mode", d.ProxyMode)
	v.SetDefault("mock_running_polls", d.MockRunningPolls)
	// Keys without a default must be bound explicitly for Unmarshal to see their env values
	for _, key := range []string{
		"proxy_host", "proxy_port", "proxy_user", "proxy_password", "no_proxy", "proxy_warmup",
		"s3_region", "s3_endpoint", "s3_access_key", "s3_secret_key",
		"azure_account_url", "azure_sas_token",
	} {
		_ = v.BindEnv(key)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(ConfigDirectory())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.DownloadDir == "" {
		c.DownloadDir = d.DownloadDir
	}
	return &c, nil
}

// Validate checks field constraints, including that error backoff is strictly
// longer than the steady-state poll interval.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be an absolute URL, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// Save writes the configuration as YAML. Secrets are never written. If path is
// empty the default config path is used and its directory created.
func Save(c *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
