package appdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDir returns the OS-specific config directory for revharvest.
// Linux: $XDG_CONFIG_HOME/revharvest  macOS: ~/Library/Application Support/revharvest
// Windows: %AppData%/revharvest
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user config dir: %w", err)
	}
	return filepath.Join(base, "revharvest"), nil
}

// DataDir returns the OS-specific data directory for revharvest. The harvest
// database lives here unless the user points it somewhere else.
// Linux: $XDG_DATA_HOME/revharvest (falling back to ~/.local/share/revharvest)
// macOS: ~/Library/Application Support/revharvest  Windows: %AppData%/revharvest
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "revharvest"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user data dir: %w", err)
	}
	if home, herr := os.UserHomeDir(); herr == nil {
		if local := filepath.Join(home, ".local", "share"); dirExists(local) {
			return filepath.Join(local, "revharvest"), nil
		}
	}
	return filepath.Join(base, "revharvest"), nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureDir creates path with 0700 permissions if it does not exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("creating dir: %w", err)
	}
	return nil
}

// EnsureFile creates path and its parent directories if they do not exist.
// The file is created with 0600 permissions (owner read/write only).
// A no-op if the file already exists.
func EnsureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("creating config file: %w", err)
	}
	return f.Close()
}
