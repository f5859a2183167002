package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirEnv is the environment variable that overrides the config directory.
const DirEnv = "SYMPOSIUM_DIR"

// Dir returns the configuration directory: $SYMPOSIUM_DIR if set, otherwise
// ~/.symposium resolved against $HOME. Per spec §6 this is the only
// environment-driven path resolution the runtime performs — no per-platform
// special-casing.
func Dir() (string, error) {
	if d := os.Getenv(DirEnv); d != "" {
		return d, nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("config: HOME is not set and %s is not set", DirEnv)
	}
	return filepath.Join(home, ".symposium"), nil
}

// EnsureDir creates the configuration directory if it does not exist.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create dir %s: %w", dir, err)
	}
	return dir, nil
}

// FilePath returns the path to the main configuration file.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.jsonc"), nil
}

// TraceDir returns the directory newline-JSON traces are written under.
func TraceDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "traces"), nil
}
