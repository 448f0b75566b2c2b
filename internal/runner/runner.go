// Package runner is the dispatcher: it submits every expanded build task
// for concurrent execution, bounded only by the configured slot count,
// and joins on completion of the whole set. One task's failure never
// cancels its siblings.
package runner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/events"
	"github.com/buildmatrix/matrixci/internal/executor"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// maxOutputLines bounds the diagnostic lines streamed per failed task.
const maxOutputLines = 100

// ImagePuller fetches container images. Satisfied by executor.Puller.
type ImagePuller interface {
	Pull(ctx context.Context, image string) error
}

// ExecuteFunc runs one task to a terminal result. Satisfied by
// (*executor.Executor).Execute; replaceable in tests.
type ExecuteFunc func(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, timeLimit time.Duration) executor.BuildResult

// Config configures the parallel runner.
type Config struct {
	Concurrency int              // Max concurrent nodes (default 4)
	TimeLimit   time.Duration    // Per-task wall-clock limit (0 = none)
	Workspaces  *workspace.Manager
	Resolver    *buildenv.Resolver
	Execute     ExecuteFunc
	Puller      ImagePuller          // Required when the plan has pull nodes
	Bus         *events.EventBus     // Optional
	Retry       RetryConfig          // Image pull retry policy
	Breakers    *BreakerRegistry     // Optional; created on demand
}

// ParallelRunner executes a launch plan with bounded concurrency.
type ParallelRunner struct {
	config  Config
	plan    *scheduler.Plan
	envs    map[string]buildenv.Environment
	mu      sync.Mutex
	results []executor.BuildResult
}

// NewParallelRunner creates a runner for the given plan.
func NewParallelRunner(cfg Config, plan *scheduler.Plan) *ParallelRunner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewBreakerRegistry()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &ParallelRunner{
		config: cfg,
		plan:   plan,
		envs:   make(map[string]buildenv.Environment),
	}
}

// Run executes every node in the plan and returns the full result set,
// one BuildResult per build task, regardless of individual failures.
//
// Before anything launches, every task's environment is resolved; an
// unresolved mapping is a configuration error that aborts the whole run
// with no task executed. After launch, context cancellation stops new
// tasks from starting but does not force-kill running ones; those are
// terminated by the process manager during shutdown.
func (r *ParallelRunner) Run(ctx context.Context) ([]executor.BuildResult, error) {
	// Clear debris from prior crashed runs.
	if err := r.config.Workspaces.Prune(); err != nil {
		log.Printf("WARNING: failed to prune stale workspaces: %v", err)
	}

	if err := r.preflight(); err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)

	// Completions come back through a channel sized for the whole plan so
	// a finishing node never blocks on the dispatcher.
	total := len(r.plan.Nodes())
	completions := make(chan string, total)
	launched := make(map[string]bool, total)
	inFlight := 0

	// launchEligible starts every node whose prerequisites have succeeded.
	// A node becomes runnable the moment its own prerequisites are done;
	// it never waits on unrelated nodes that happened to start alongside
	// them.
	launchEligible := func() {
		if ctx.Err() != nil {
			return
		}
		for _, node := range r.plan.Eligible() {
			if launched[node.ID] {
				continue
			}
			launched[node.ID] = true
			inFlight++
			n := node
			g.Go(func() error {
				r.executeNode(ctx, n)
				completions <- n.ID
				return nil
			})
		}
	}

	launchEligible()
	for inFlight > 0 {
		<-completions
		inFlight--
		launchEligible()
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		r.cancelPending(ctx.Err())
	}

	return r.Results(), nil
}

// preflight resolves the environment of every build task, surfacing
// unresolved (platform, version) mappings before any execution begins.
func (r *ParallelRunner) preflight() error {
	for _, node := range r.plan.Nodes() {
		if node.Kind != scheduler.NodeBuild {
			continue
		}
		env, err := r.config.Resolver.Resolve(node.Task.PlatformLabel, node.Task.Version)
		if err != nil {
			return fmt.Errorf("task %q: %w", node.Task.Name, err)
		}
		r.envs[node.Task.Name] = env
	}
	return nil
}

// executeNode runs a single plan node to a terminal state.
func (r *ParallelRunner) executeNode(ctx context.Context, node *scheduler.Node) {
	switch node.Kind {
	case scheduler.NodePull:
		r.executePull(ctx, node)
	case scheduler.NodeBuild:
		r.executeBuild(ctx, node)
	}
}

// executePull pulls one container image with retry and circuit breaking.
// On failure, every build waiting on the image is recorded as failed;
// builds on other images and native hosts are unaffected.
func (r *ParallelRunner) executePull(ctx context.Context, node *scheduler.Node) {
	_ = r.plan.MarkRunning(node.ID)
	r.publish(events.TopicTask, events.ImagePullEvent{Image: node.Image, Timestamp: time.Now()})

	cb := r.config.Breakers.Get(registryHost(node.Image))
	err := pullWithRetry(ctx, r.config.Puller, node.Image, cb, r.config.Retry)

	r.publish(events.TopicTask, events.ImagePullEvent{Image: node.Image, Done: true, Err: err, Timestamp: time.Now()})

	if err != nil {
		log.Printf("ERROR: image pull %s failed: %v", node.Image, err)
		_ = r.plan.MarkFailed(node.ID, err)
		cause := fmt.Errorf("image pull failed: %w", err)
		for _, dep := range r.plan.FailDependents(node.ID, cause) {
			r.recordResult(executor.BuildResult{
				TaskName:    dep.Task.Name,
				Status:      executor.StatusFailure,
				ErrorDetail: cause.Error(),
				StartedAt:   time.Now(),
			})
			r.publishFinished(dep.Task.Name, executor.StatusFailure, cause.Error(), 0, 0)
		}
		r.publishProgress()
		return
	}

	_ = r.plan.MarkSucceeded(node.ID)
}

// executeBuild runs one build task through the executor.
func (r *ParallelRunner) executeBuild(ctx context.Context, node *scheduler.Node) {
	task := node.Task
	_ = r.plan.MarkRunning(node.ID)
	r.publish(events.TopicTask, events.TaskStartedEvent{
		Name:          task.Name,
		PlatformLabel: task.PlatformLabel,
		Version:       task.Version,
		Timestamp:     time.Now(),
	})
	r.publishProgress()

	// Cancellation stops new launches only (see Run); a task that already
	// started keeps its own deadline and is reaped by the process manager
	// on shutdown if it outlives the run.
	result := r.config.Execute(context.WithoutCancel(ctx), task, r.envs[task.Name], r.config.TimeLimit)
	r.recordResult(result)

	if result.Succeeded() {
		_ = r.plan.MarkSucceeded(node.ID)
	} else {
		_ = r.plan.MarkFailed(node.ID, fmt.Errorf("%s", result.Status))
		r.publishOutput(task.Name, result.ErrorDetail)
	}

	r.publishFinished(task.Name, result.Status, result.ErrorDetail, len(result.ArtifactPaths), result.Duration)
	r.publishProgress()
}

// cancelPending records a failure result for every task that had not
// started when the run was canceled. Running tasks are left to finish.
func (r *ParallelRunner) cancelPending(cause error) {
	for _, node := range r.plan.Nodes() {
		if node.Status != scheduler.NodePending {
			continue
		}
		_ = r.plan.MarkFailed(node.ID, cause)
		if node.Kind != scheduler.NodeBuild {
			continue
		}
		detail := fmt.Sprintf("run canceled before task started: %v", cause)
		r.recordResult(executor.BuildResult{
			TaskName:    node.Task.Name,
			Status:      executor.StatusFailure,
			ErrorDetail: detail,
			StartedAt:   time.Now(),
		})
		r.publishFinished(node.Task.Name, executor.StatusFailure, detail, 0, 0)
	}
	r.publishProgress()
}

// recordResult appends a result in a thread-safe manner.
func (r *ParallelRunner) recordResult(result executor.BuildResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// Results returns a copy of the results recorded so far.
func (r *ParallelRunner) Results() []executor.BuildResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.BuildResult(nil), r.results...)
}

func (r *ParallelRunner) publish(topic string, event events.Event) {
	if r.config.Bus != nil {
		r.config.Bus.Publish(topic, event)
	}
}

// publishOutput streams a failed task's captured diagnostics to observers
// line by line, capped to the most recent lines.
func (r *ParallelRunner) publishOutput(name, detail string) {
	if r.config.Bus == nil || detail == "" {
		return
	}
	lines := strings.Split(strings.TrimRight(detail, "\n"), "\n")
	if len(lines) > maxOutputLines {
		lines = lines[len(lines)-maxOutputLines:]
	}
	for _, line := range lines {
		r.publish(events.TopicTask, events.TaskOutputEvent{Name: name, Line: line, Timestamp: time.Now()})
	}
}

func (r *ParallelRunner) publishFinished(name string, status executor.Status, detail string, artifacts int, d time.Duration) {
	r.publish(events.TopicTask, events.TaskFinishedEvent{
		Name:      name,
		Status:    status.String(),
		Detail:    detail,
		Artifacts: artifacts,
		Duration:  d,
		Timestamp: time.Now(),
	})
}

func (r *ParallelRunner) publishProgress() {
	if r.config.Bus == nil {
		return
	}
	pending, running, succeeded, failed := r.plan.Counts()
	r.publish(events.TopicRun, events.RunProgressEvent{
		Total:     pending + running + succeeded + failed,
		Pending:   pending,
		Running:   running,
		Succeeded: succeeded,
		Failed:    failed,
		Timestamp: time.Now(),
	})
}
