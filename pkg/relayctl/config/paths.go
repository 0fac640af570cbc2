package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "relayctl"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "token"
)

func DefaultConfigPath() string {
	if env := os.Getenv("RELAYCTL_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultConfigFile)
}

// DefaultTokenPath is used when the OS keychain is unavailable or the file
// token storage is selected.
func DefaultTokenPath() string {
	return filepath.Join(configDir(), defaultTokenFile)
}

func configDir() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relayctl")
}
