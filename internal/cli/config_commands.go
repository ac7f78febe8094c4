package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trendreview/trendreview/internal/api"
	"github.com/trendreview/trendreview/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage trendreview configuration",
		Long: `Configuration management commands for trendreview.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the backend connection
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for trendreview.

The configuration is saved as YAML to ~/.config/trendreview/config.yaml
(or the --config path). Secrets such as the proxy password, S3 secret key
and Azure SAS token are never written; set them through TRENDREVIEW_*
environment variables or a .env file.

Use --force to overwrite existing configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := runConfigWizard(newPrompter(cmd.InOrStdin(), out), config.Default())
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Test your configuration with: trendreview config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// runConfigWizard asks for each setting, starting from cfg.
func runConfigWizard(p *prompter, cfg *config.Config) *config.Config {
	fmt.Fprintln(p.w, "trendreview Configuration Setup")
	fmt.Fprintln(p.w, "===============================")
	fmt.Fprintln(p.w)

	cfg.BaseURL = p.String("Backend URL", cfg.BaseURL)
	cfg.DefaultQuery = p.String("Default analysis query", cfg.DefaultQuery)
	cfg.MaxSelection = p.Int("Maximum selected rows", cfg.MaxSelection, 1, 100)
	cfg.DownloadDir = p.String("Download directory", cfg.DownloadDir)

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, "Polling (press Enter for defaults)")
	fmt.Fprintln(p.w, "----------------------------------")
	cfg.PollMaxAttempts = p.Int("Status checks before giving up", cfg.PollMaxAttempts, 1, 100000)
	cfg.PollMaxErrors = p.Int("Failed status queries before giving up", cfg.PollMaxErrors, 1, 1000)

	fmt.Fprintln(p.w)
	if p.YesNo("Configure proxy?", false) {
		cfg.ProxyMode = p.Choice("Proxy mode", "system", []string{"no-proxy", "system", "basic", "ntlm"})
		if cfg.ProxyMode != "no-proxy" && cfg.ProxyMode != "system" {
			cfg.ProxyHost = p.String("Proxy host", cfg.ProxyHost)
			cfg.ProxyPort = p.Int("Proxy port", 8080, 1, 65535)
			cfg.ProxyUser = p.String("Proxy user", cfg.ProxyUser)
		}
	}

	fmt.Fprintln(p.w)
	if p.YesNo("Configure S3 export?", false) {
		cfg.S3Region = p.String("S3 region", cfg.S3Region)
		cfg.S3Endpoint = p.String("S3 endpoint (empty for AWS)", cfg.S3Endpoint)
		cfg.S3AccessKey = p.String("S3 access key (empty for the default credential chain)", cfg.S3AccessKey)
	}
	if p.YesNo("Configure Azure blob export?", false) {
		cfg.AzureAccountURL = p.String("Azure account URL", cfg.AzureAccountURL)
	}
	return cfg
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration, merged from:
  1. Built-in defaults
  2. Configuration file (~/.config/trendreview/config.yaml)
  3. .env file and TRENDREVIEW_* environment variables
  4. Command-line flags (--base-url, --mock)

Priority: flags > environment > config file > defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cfg)
			printConfig(cmd.OutOrStdout(), cfg, configPath())
			return nil
		},
	}
}

func secret(s string) string {
	if s == "" {
		return "<not set>"
	}
	return "<set>"
}

func printConfig(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Backend:")
	fmt.Fprintf(w, "  Base URL:      %s\n", cfg.BaseURL)
	fmt.Fprintf(w, "  Remote Mode:   %s\n", cfg.RemoteMode)
	fmt.Fprintf(w, "  Default Query: %s\n", cfg.DefaultQuery)
	fmt.Fprintf(w, "  Max Selection: %d\n", cfg.MaxSelection)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Polling:")
	fmt.Fprintf(w, "  Initial Delay: %s\n", cfg.PollInitialDelay)
	fmt.Fprintf(w, "  Interval:      %s\n", cfg.PollInterval)
	fmt.Fprintf(w, "  Error Backoff: %s\n", cfg.PollErrorBackoff)
	fmt.Fprintf(w, "  Max Attempts:  %d\n", cfg.PollMaxAttempts)
	fmt.Fprintf(w, "  Max Errors:    %d\n", cfg.PollMaxErrors)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Export:")
	fmt.Fprintf(w, "  Download Dir:  %s\n", cfg.DownloadDir)
	fmt.Fprintf(w, "  Workers:       %d\n", cfg.ArtifactWorkers)
	fmt.Fprintf(w, "  Retries:       %d\n", cfg.ArtifactRetries)
	if cfg.S3Region != "" || cfg.S3Endpoint != "" {
		fmt.Fprintf(w, "  S3 Region:     %s\n", cfg.S3Region)
		if cfg.S3Endpoint != "" {
			fmt.Fprintf(w, "  S3 Endpoint:   %s\n", cfg.S3Endpoint)
		}
		fmt.Fprintf(w, "  S3 Secret:     %s\n", secret(cfg.S3SecretKey))
	}
	if cfg.AzureAccountURL != "" {
		fmt.Fprintf(w, "  Azure Account: %s\n", cfg.AzureAccountURL)
		fmt.Fprintf(w, "  Azure SAS:     %s\n", secret(cfg.AzureSASToken))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  Mode:          %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Host:          %s:%d\n", cfg.ProxyHost, cfg.ProxyPort)
		fmt.Fprintf(w, "  Password:      %s\n", secret(cfg.ProxyPassword))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the backend connection",
		Long: `Check that the configured backend is reachable through the configured
proxy. Any HTTP answer counts as reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Testing Backend Connection")
			fmt.Fprintln(out, "==========================")
			fmt.Fprintf(out, "Base URL: %s\n\n", cfg.BaseURL)

			if cfg.RemoteMode == config.RemoteMock {
				fmt.Fprintln(out, "✓ Using the simulated backend; nothing to test")
				return nil
			}

			client, err := api.NewClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			start := time.Now()
			code, err := client.Ping(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "✗ Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}

			logger.Info().Int("status", code).Msg("Connection test successful")
			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			fmt.Fprintf(out, "  HTTP %d in %s\n", code, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: trendreview config init")
			}
			return nil
		},
	}
}
