package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// ContainerStrategy runs the build procedure inside the task's container
// image via the configured engine binary, with the workspace and staging
// directories bind-mounted. The image is expected to be present already:
// the dispatcher schedules one pull per unique image before its builds.
type ContainerStrategy struct {
	config StrategyConfig
	pm     *ProcessManager
}

// NewContainerStrategy creates a container execution strategy.
func NewContainerStrategy(cfg StrategyConfig, pm *ProcessManager) *ContainerStrategy {
	if cfg.Engine == "" {
		cfg.Engine = "docker"
	}
	if cfg.WorkMount == "" {
		cfg.WorkMount = "/build"
	}
	if cfg.StageMount == "" {
		cfg.StageMount = "/staging"
	}
	return &ContainerStrategy{config: cfg, pm: pm}
}

// Name identifies the strategy.
func (s *ContainerStrategy) Name() string { return "container" }

// Run executes the build command, then the smoke test, each in a fresh
// container on the task's image.
func (s *ContainerStrategy) Run(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, ws *workspace.Info) ([]byte, error) {
	build, smoke := commandsFor(task, s.config)
	if len(build) == 0 {
		return nil, fmt.Errorf("no build command configured for image %q", task.Image)
	}

	output, err := s.run(ctx, task.Image, build, env, ws)
	if err != nil {
		return output, fmt.Errorf("build: %w", err)
	}

	if len(smoke) > 0 {
		smokeOut, err := s.run(ctx, task.Image, smoke, env, ws)
		output = append(output, smokeOut...)
		if err != nil {
			return output, fmt.Errorf("smoke test: %w", err)
		}
	}

	return output, nil
}

func (s *ContainerStrategy) run(ctx context.Context, image string, argv []string, env buildenv.Environment, ws *workspace.Info) ([]byte, error) {
	args := []string{
		"run", "--rm",
		"-v", ws.Path + ":" + s.config.WorkMount,
		"-v", ws.Staging + ":" + s.config.StageMount,
		"-w", s.config.WorkMount,
	}
	for _, kv := range env.Vars {
		args = append(args, "-e", kv)
	}
	args = append(args,
		"-e", "MATRIXCI_WORKSPACE="+s.config.WorkMount,
		"-e", "MATRIXCI_STAGING="+s.config.StageMount,
	)
	if s.config.SourceDir != "" {
		args = append(args, "-v", s.config.SourceDir+":/source:ro", "-e", "MATRIXCI_SOURCE=/source")
	}
	args = append(args, image)
	args = append(args, argv...)

	cmd := newCommand(ctx, s.config.Engine, args...)
	return runCommand(ctx, cmd, s.pm)
}

// Puller pulls container images through the engine binary. Retry and
// circuit breaking are layered on by the dispatcher; this type only runs
// the command.
type Puller struct {
	engine string
	pm     *ProcessManager
}

// NewPuller creates an image puller for the given engine binary.
func NewPuller(engine string, pm *ProcessManager) *Puller {
	if engine == "" {
		engine = "docker"
	}
	return &Puller{engine: engine, pm: pm}
}

// Pull fetches the image. The returned output is the engine's combined
// stdout/stderr, included in errors for diagnostics.
func (p *Puller) Pull(ctx context.Context, image string) error {
	cmd := newCommand(ctx, p.engine, "pull", image)
	output, err := runCommand(ctx, cmd, p.pm)
	if err != nil {
		return fmt.Errorf("pulling %s: %w (output: %s)", image, err, strings.TrimSpace(string(output)))
	}
	return nil
}
