package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config wins
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// GlobalDir returns ~/.tagbatch.
func GlobalDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".tagbatch"), nil
}

// ProjectPath is the project config file, relative to the working directory.
var ProjectPath = filepath.Join(".tagbatch", "config.json")

// GlobalPath returns ~/.tagbatch/config.json.
func GlobalPath() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadDefault loads ~/.tagbatch/config.json and then projectPath, or
// ProjectPath when projectPath is empty. A DatabasePath left empty by both
// files becomes ~/.tagbatch/history.db.
func LoadDefault(projectPath string) (*Config, error) {
	dir, err := GlobalDir()
	if err != nil {
		return nil, err
	}
	if projectPath == "" {
		projectPath = ProjectPath
	}

	cfg, err := Load(filepath.Join(dir, "config.json"), projectPath)
	if err != nil {
		return nil, err
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(dir, "history.db")
	}
	return cfg, nil
}

// mergeConfigFile decodes a JSON file over base. Keys absent from the file
// keep their current value; lists present in the file replace the old list.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
