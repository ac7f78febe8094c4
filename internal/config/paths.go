package config

import (
	"os"
	"path/filepath"

	"github.com/trendreview/trendreview/internal/constants"
)

// ConfigDirectory returns the directory holding config.yaml.
//
// Locations:
//   - Unix: ~/.config/trendreview
//   - Windows: %AppData%\trendreview
func ConfigDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), constants.AppName)
		}
		return filepath.Join(homeDir, ".config", constants.AppName)
	}
	return filepath.Join(configDir, constants.AppName)
}

// DefaultConfigPath returns the config file used when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirectory(), "config.yaml")
}

// DefaultDownloadDir returns where artifacts land when download_dir is unset.
func DefaultDownloadDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return constants.AppName + "-artifacts"
	}
	return filepath.Join(wd, constants.AppName+"-artifacts")
}
