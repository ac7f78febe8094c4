package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trendreview/trendreview/internal/config"
)

// TestConfigCmd tests the config command group
func TestConfigCmd(t *testing.T) {
	cmd := newConfigCmd()
	if cmd == nil {
		t.Fatal("newConfigCmd() returned nil")
	}

	if cmd.Use != "config" {
		t.Errorf("Expected Use='config', got '%s'", cmd.Use)
	}

	expectedSubs := []string{"init", "show", "test", "path"}
	subcommands := cmd.Commands()
	if len(subcommands) != len(expectedSubs) {
		t.Errorf("Expected %d subcommands, got %d", len(expectedSubs), len(subcommands))
	}

	foundSubs := make(map[string]bool)
	for _, sub := range subcommands {
		foundSubs[sub.Name()] = true
		if sub.Short == "" {
			t.Errorf("Subcommand '%s' has no short description", sub.Name())
		}
		if sub.RunE == nil {
			t.Errorf("Subcommand '%s' has no RunE", sub.Name())
		}
	}
	for _, expected := range expectedSubs {
		if !foundSubs[expected] {
			t.Errorf("Subcommand '%s' not found", expected)
		}
	}
}

// TestConfigInitFlags tests the config init command structure
func TestConfigInitFlags(t *testing.T) {
	cmd := newConfigInitCmd()
	if cmd.Flags().Lookup("force") == nil {
		t.Error("--force flag not found")
	}
}

func TestConfigWizard(t *testing.T) {
	input := strings.Join([]string{
		"http://backend.local:5000", // base url
		"",                          // default query
		"3",                         // max selection
		"/tmp/trend",                // download dir
		"abc",                       // invalid attempts, asked again
		"50",                        // attempts
		"",                          // max errors
		"y",                         // proxy
		"basic",                     // proxy mode
		"proxy.local",               // host
		"3128",                      // port
		"alice",                     // user
		"n",                         // s3
		"y",                         // azure
		"https://acct.blob.core.windows.net",
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg := runConfigWizard(newPrompter(strings.NewReader(input), &out), config.Default())

	if cfg.BaseURL != "http://backend.local:5000" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.DefaultQuery != config.Default().DefaultQuery {
		t.Errorf("DefaultQuery = %q, want the default", cfg.DefaultQuery)
	}
	if cfg.MaxSelection != 3 {
		t.Errorf("MaxSelection = %d, want 3", cfg.MaxSelection)
	}
	if cfg.PollMaxAttempts != 50 {
		t.Errorf("PollMaxAttempts = %d, want 50", cfg.PollMaxAttempts)
	}
	if cfg.PollMaxErrors != config.Default().PollMaxErrors {
		t.Errorf("PollMaxErrors = %d, want the default", cfg.PollMaxErrors)
	}
	if cfg.ProxyMode != "basic" || cfg.ProxyHost != "proxy.local" || cfg.ProxyPort != 3128 || cfg.ProxyUser != "alice" {
		t.Errorf("proxy = %s %s:%d %s", cfg.ProxyMode, cfg.ProxyHost, cfg.ProxyPort, cfg.ProxyUser)
	}
	if cfg.S3Region != "" {
		t.Errorf("S3Region = %q, want empty", cfg.S3Region)
	}
	if cfg.AzureAccountURL != "https://acct.blob.core.windows.net" {
		t.Errorf("AzureAccountURL = %q", cfg.AzureAccountURL)
	}
	if !strings.Contains(out.String(), "enter a number between") {
		t.Error("expected an error for the invalid number")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("wizard produced an invalid config: %v", err)
	}
}

func TestConfigWizardEOFKeepsDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg := runConfigWizard(newPrompter(strings.NewReader(""), &out), config.Default())
	def := config.Default()
	if cfg.BaseURL != def.BaseURL || cfg.MaxSelection != def.MaxSelection || cfg.ProxyMode != def.ProxyMode {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestConfigInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfgFile = path
	defer func() { cfgFile = "" }()

	cmd := newConfigInitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.BaseURL != config.Default().BaseURL {
		t.Errorf("BaseURL = %q", loaded.BaseURL)
	}

	// A second run without --force leaves the file alone.
	out.Reset()
	cmd = newConfigInitCmd()
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("second config init failed: %v", err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Errorf("expected 'already exists', got %q", out.String())
	}
}

func TestConfigPathReportsMissingFile(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	defer func() { cfgFile = "" }()

	cmd := newConfigPathCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if !strings.Contains(out.String(), "from --config flag") {
		t.Errorf("expected flag notice, got %q", out.String())
	}
	if !strings.Contains(out.String(), "File does not exist") {
		t.Errorf("expected missing-file notice, got %q", out.String())
	}
}

func TestPrintConfigHidesSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.ProxyHost = "proxy.local"
	cfg.ProxyPort = 8080
	cfg.ProxyPassword = "hunter2"
	cfg.AzureAccountURL = "https://acct.blob.core.windows.net"
	cfg.AzureSASToken = "sv=secret"

	var out bytes.Buffer
	printConfig(&out, cfg, filepath.Join(t.TempDir(), "config.yaml"))
	s := out.String()
	if strings.Contains(s, "hunter2") || strings.Contains(s, "sv=secret") {
		t.Errorf("secrets printed:\n%s", s)
	}
	if !strings.Contains(s, "Password:      <set>") {
		t.Errorf("expected masked password, got:\n%s", s)
	}
}

// TestConfigDefaultPath tests the default config path function
func TestConfigDefaultPath(t *testing.T) {
	path := config.DefaultConfigPath()
	if path == "" {
		t.Error("DefaultConfigPath() returned empty string")
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("DefaultConfigPath() = %s, want a config.yaml", path)
	}
}
