package executor

import (
	"context"

	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// Strategy runs the platform-native build-and-smoke-test procedure for
// one task inside its resolved environment. The contract with the build
// procedure is exit code 0 with artifacts staged under the workspace
// staging directory on success, non-zero otherwise.
type Strategy interface {
	// Name identifies the strategy in logs and reports.
	Name() string

	// Run executes the build and smoke test, returning combined output.
	Run(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, ws *workspace.Info) ([]byte, error)
}

// StrategyConfig carries the runner-wide defaults strategies fall back to
// when the platform spec does not override them.
type StrategyConfig struct {
	Engine     string   // Container engine binary ("docker", "podman")
	Build      []string // Default build command
	Smoke      []string // Default smoke-test command; empty disables the phase
	SourceDir  string   // Source tree copied/mounted into the workspace
	WorkMount  string   // Mount point of the workspace inside containers
	StageMount string   // Mount point of the staging dir inside containers
}

// ForTask selects the execution strategy for a task. The choice is made
// once here, at dispatch time, never re-branched during execution.
func ForTask(task *scheduler.BuildTask, cfg StrategyConfig, pm *ProcessManager) Strategy {
	if task.ContainerTask() {
		return NewContainerStrategy(cfg, pm)
	}
	return NewNativeStrategy(cfg, pm)
}

// commandsFor returns the build and smoke commands for a task, preferring
// per-platform overrides from the matrix.
func commandsFor(task *scheduler.BuildTask, cfg StrategyConfig) (build, smoke []string) {
	build = cfg.Build
	if len(task.Build) > 0 {
		build = task.Build
	}
	smoke = cfg.Smoke
	if len(task.Smoke) > 0 {
		smoke = task.Smoke
	}
	return build, smoke
}
