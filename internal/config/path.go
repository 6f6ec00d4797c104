package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// productName namespaces every OS-specific directory this package computes.
const productName = "nesdb"

// DefaultDataDir returns the default storage directory for the host OS.
// If the user's home directory cannot be determined it returns "./data",
// without consulting XDG_DATA_HOME. Otherwise XDG_DATA_HOME, when set,
// wins on every platform; failing that the directory
// follows the convention for runtime.GOOS, falling back to a dotdir in the
// user's home directory if neither applies.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, productName)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", productName)
	case "windows":
		return filepath.Join(homeDir, "AppData", "Local", productName)
	default:
		if isDir("/var/lib") {
			return filepath.Join("/var/lib", productName)
		}
		return filepath.Join(homeDir, "."+productName)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
