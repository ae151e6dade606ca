package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("ERGO_BLUE_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".ergo-blue-data")
}

// GetSettingsPath returns the file the settings register persists to
func GetSettingsPath() string {
	return filepath.Join(GetDataDir(), "settings.cbor")
}
