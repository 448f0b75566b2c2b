// Package executor runs the build-and-smoke-test sequence for one task:
// prepare an isolated working area, invoke the platform's build procedure
// bounded by a wall-clock limit, and release the working area on every
// exit path. Builds are never retried here; a rerun is an operator
// decision made outside the orchestrator.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// maxErrorDetail bounds the diagnostic output carried in a BuildResult.
const maxErrorDetail = 16 * 1024

// Executor executes build tasks through their selected strategy.
type Executor struct {
	workspaces  *workspace.Manager
	config      StrategyConfig
	pm          *ProcessManager
	strategyFor func(*scheduler.BuildTask, StrategyConfig, *ProcessManager) Strategy
}

// New creates an Executor.
func New(ws *workspace.Manager, cfg StrategyConfig, pm *ProcessManager) *Executor {
	return &Executor{workspaces: ws, config: cfg, pm: pm, strategyFor: ForTask}
}

// Execute runs one task to a terminal BuildResult. The sequence is fixed:
//
//  1. create the task's workspace and staging directory,
//  2. run the strategy's build-and-smoke-test procedure bounded by
//     timeLimit,
//  3. release the workspace - deferred, so it runs on success, failure,
//     timeout, and a panic inside the build procedure alike.
//
// Exceeding timeLimit yields StatusTimedOut; any other non-zero exit
// yields StatusFailure with the captured output as detail.
func (e *Executor) Execute(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, timeLimit time.Duration) (result BuildResult) {
	started := time.Now()
	result = BuildResult{TaskName: task.Name, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailure
			result.ErrorDetail = fmt.Sprintf("build procedure panicked: %v", r)
		}
		result.Duration = time.Since(started)
	}()

	ws, err := e.workspaces.Create(task.Name)
	if err != nil {
		result.Status = StatusFailure
		result.ErrorDetail = err.Error()
		return result
	}

	// The cleanup invariant: the working area is gone when Execute
	// returns, whatever happened in between.
	defer func() {
		if err := e.workspaces.Cleanup(ws); err != nil {
			log.Printf("WARNING: %v", err)
		}
	}()

	buildCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeLimit > 0 {
		buildCtx, cancel = context.WithTimeout(ctx, timeLimit)
	}
	defer cancel()

	strategy := e.strategyFor(task, e.config, e.pm)
	output, runErr := strategy.Run(buildCtx, task, env, ws)

	if runErr != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			result.Status = StatusTimedOut
			result.ErrorDetail = fmt.Sprintf("exceeded time limit of %s", timeLimit)
			return result
		}
		result.Status = StatusFailure
		result.ErrorDetail = errorDetail(runErr, output)
		return result
	}

	artifacts, err := stagedArtifacts(ws.Staging)
	if err != nil {
		result.Status = StatusFailure
		result.ErrorDetail = fmt.Sprintf("scanning staged artifacts: %v", err)
		return result
	}

	result.Status = StatusSuccess
	result.ArtifactPaths = artifacts
	return result
}

// stagedArtifacts lists every regular file under the staging directory,
// sorted for deterministic results.
func stagedArtifacts(staging string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(staging, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// errorDetail combines the failure and the tail of the captured output.
func errorDetail(err error, output []byte) string {
	if len(output) > maxErrorDetail {
		output = output[len(output)-maxErrorDetail:]
	}
	if len(output) == 0 {
		return err.Error()
	}
	return fmt.Sprintf("%v\n%s", err, output)
}
