package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("OFFLINK_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".offlink-data")
}

// GetDeviceDir returns the per-device directory (advertisement, stable ID cache)
func GetDeviceDir(dataDir, hardwareAddr string) string {
	return filepath.Join(dataDir, "devices", hardwareAddr)
}

// GetSocketDir returns the directory where Unix domain sockets are stored
func GetSocketDir(dataDir string) string {
	socketDir := filepath.Join(dataDir, "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		panic(err)
	}
	return socketDir
}
