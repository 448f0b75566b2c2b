package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*RunnerConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.matrixci/config.json
// Project: .matrixci/config.json (relative to cwd)
func LoadDefault() (*RunnerConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".matrixci", "config.json")
	projectPath := filepath.Join(".matrixci", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and overlays its set fields
// onto the base config. Missing files are silently skipped.
func mergeConfigFile(base *RunnerConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded RunnerConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Concurrency > 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.TimeLimitMinutes > 0 {
		base.TimeLimitMinutes = loaded.TimeLimitMinutes
	}
	if loaded.WorkRoot != "" {
		base.WorkRoot = loaded.WorkRoot
	}
	if loaded.OutputDir != "" {
		base.OutputDir = loaded.OutputDir
	}
	if loaded.SourceDir != "" {
		base.SourceDir = loaded.SourceDir
	}
	if loaded.Engine != "" {
		base.Engine = loaded.Engine
	}
	if loaded.DatabasePath != "" {
		base.DatabasePath = loaded.DatabasePath
	}
	if len(loaded.Build.Command) > 0 {
		base.Build.Command = loaded.Build.Command
	}
	if len(loaded.Build.Smoke) > 0 {
		base.Build.Smoke = loaded.Build.Smoke
	}
	if loaded.Store.Endpoint != "" || loaded.Store.Enabled {
		base.Store = loaded.Store
	}

	return nil
}
