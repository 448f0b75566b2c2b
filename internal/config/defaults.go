package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *RunnerConfig {
	return &RunnerConfig{
		Concurrency:      4,
		TimeLimitMinutes: 60,
		WorkRoot:         ".matrixci",
		OutputDir:        "dist",
		Engine:           "docker",
		DatabasePath:     filepath.Join(xdg.DataHome, "matrixci", "history.db"),
		Build: BuildConfig{
			Command: []string{"./build.sh"},
		},
	}
}
