package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey = "NOTIF_API_KEY"
	EnvServer = "NOTIF_SERVER"

	DefaultServer = "https://api.notif.sh"
)

// File is the YAML config used by the CLI.
type File struct {
	APIKey string `yaml:"api_key,omitempty"`
	Server string `yaml:"server,omitempty"`
}

// DefaultPath returns $XDG_CONFIG_HOME/notif/config.yaml, falling back to ~/.config.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "notif", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "notif", "config.yaml"), nil
}

// Read parses path as is. A missing file yields an empty File.
func Read(path string) (File, error) {
	var f File

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return f, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return f, nil
}

// Load reads path like Read, then applies environment overrides and the
// default server.
func Load(path string) (File, error) {
	f, err := Read(path)
	if err != nil {
		return f, err
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		f.APIKey = v
	}
	if v := os.Getenv(EnvServer); v != "" {
		f.Server = v
	}
	if f.Server == "" {
		f.Server = DefaultServer
	}
	return f, nil
}

// Save writes f to path with owner-only permissions.
func Save(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
