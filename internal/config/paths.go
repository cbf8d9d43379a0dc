package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the data directory: $CHATSIM_DATA if set,
// otherwise ~/.chatsim.
func DefaultDataDir() string {
	if dir := os.Getenv("CHATSIM_DATA"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsim")
}

// DBPath returns the SQLite database path inside the data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "chatsim.db")
}

// ConfigPath returns the config file path inside the data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// LogDir returns the log directory inside the data directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// DaemonLogPath returns the hub daemon log file path.
func DaemonLogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "chatsimd.log")
}

// ClientLogPath returns the client simulator log file path.
func ClientLogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "chatsim.log")
}

// EnsureDataDir creates the data directory tree with proper permissions.
func EnsureDataDir(dataDir string) error {
	dirs := []string{
		dataDir,
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ResolveDBPath returns the configured store path, or the default location
// inside the data directory when the config leaves it empty.
func ResolveDBPath(cfg *Config, dataDir string) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return DBPath(dataDir)
}
