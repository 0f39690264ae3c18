package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.linnet.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".linnet")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the app database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "app.db")
}

// LogPath returns the daemon log file path for a profile.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "linnetd.log")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// EnsureDir creates the profile directory if it does not exist.
func EnsureDir(name string) error {
	return os.MkdirAll(Dir(name), 0700)
}
