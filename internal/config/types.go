package config

import (
	"github.com/buildmatrix/matrixci/internal/artifacts"
)

// BuildConfig holds the default build and smoke-test commands. Platform
// entries in the matrix can override both per platform.
type BuildConfig struct {
	Command []string `json:"command,omitempty"` // Build-and-install command argv
	Smoke   []string `json:"smoke,omitempty"`   // Post-install smoke test argv; empty disables
}

// RunnerConfig is the top-level configuration.
type RunnerConfig struct {
	Concurrency      int                   `json:"concurrency,omitempty"`        // Max concurrent tasks
	TimeLimitMinutes int                   `json:"time_limit_minutes,omitempty"` // Per-task wall-clock limit
	WorkRoot         string                `json:"work_root,omitempty"`          // Root for per-task workspaces and staging
	OutputDir        string                `json:"output_dir,omitempty"`         // Shared artifact output location
	SourceDir        string                `json:"source_dir,omitempty"`         // Source tree handed to build procedures
	Engine           string                `json:"engine,omitempty"`             // Container engine binary
	DatabasePath     string                `json:"database_path,omitempty"`      // Run history database
	Build            BuildConfig           `json:"build,omitempty"`
	Store            artifacts.StoreConfig `json:"store,omitempty"`
}
