package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".taskledger"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// DatabaseFile is the default SQLite database file name.
	DatabaseFile = "taskledger.db"
)

// ConfigPath returns the path to the config file. TASKLEDGER_CONFIG
// overrides it; otherwise it lives under the home directory.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TASKLEDGER_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("TASKLEDGER_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// Load reads the config file if present, then applies TASKLEDGER_*
// environment overrides on top. A missing file is not an error: defaults
// plus environment apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults apply
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	envconfig.Process("TASKLEDGER_DB", &cfg.Database)
	envconfig.Process("TASKLEDGER_SERVER", &cfg.Server)
	envconfig.Process("TASKLEDGER_RELAY", &cfg.Relay)
	envconfig.Process("TASKLEDGER_LOG", &cfg.Logging)

	if cfg.Database.Path == "" {
		home, err := resolveHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.Database.Path = filepath.Join(home, ConfigDir, DatabaseFile)
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
