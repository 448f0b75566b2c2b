package executor

import (
	"context"
	"fmt"
	"os"

	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// NativeStrategy runs the build procedure directly on the host, in the
// task's workspace, with the resolved toolchain environment injected.
type NativeStrategy struct {
	config StrategyConfig
	pm     *ProcessManager
}

// NewNativeStrategy creates a native-host execution strategy.
func NewNativeStrategy(cfg StrategyConfig, pm *ProcessManager) *NativeStrategy {
	return &NativeStrategy{config: cfg, pm: pm}
}

// Name identifies the strategy.
func (s *NativeStrategy) Name() string { return "native" }

// Run executes the build command and then the smoke test, both in the
// workspace with the task environment. Output of both phases is combined.
func (s *NativeStrategy) Run(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, ws *workspace.Info) ([]byte, error) {
	build, smoke := commandsFor(task, s.config)
	if len(build) == 0 {
		return nil, fmt.Errorf("no build command configured for platform %q", task.PlatformLabel)
	}

	output, err := s.run(ctx, build, env, ws)
	if err != nil {
		return output, fmt.Errorf("build: %w", err)
	}

	if len(smoke) > 0 {
		smokeOut, err := s.run(ctx, smoke, env, ws)
		output = append(output, smokeOut...)
		if err != nil {
			return output, fmt.Errorf("smoke test: %w", err)
		}
	}

	return output, nil
}

func (s *NativeStrategy) run(ctx context.Context, argv []string, env buildenv.Environment, ws *workspace.Info) ([]byte, error) {
	cmd := newCommand(ctx, argv[0], argv[1:]...)
	cmd.Dir = ws.Path
	cmd.Env = append(os.Environ(), env.Vars...)
	cmd.Env = append(cmd.Env,
		"MATRIXCI_WORKSPACE="+ws.Path,
		"MATRIXCI_STAGING="+ws.Staging,
		"MATRIXCI_SOURCE="+s.config.SourceDir,
	)
	return runCommand(ctx, cmd, s.pm)
}
