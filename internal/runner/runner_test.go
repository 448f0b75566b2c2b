package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/events"
	"github.com/buildmatrix/matrixci/internal/executor"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// stubExecute returns canned results per task name and records the order
// of execution.
type stubExecute struct {
	mu       sync.Mutex
	results  map[string]executor.BuildResult
	executed []string
}

func (s *stubExecute) run(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, timeLimit time.Duration) executor.BuildResult {
	s.mu.Lock()
	s.executed = append(s.executed, task.Name)
	s.mu.Unlock()

	if r, ok := s.results[task.Name]; ok {
		r.TaskName = task.Name
		return r
	}
	return executor.BuildResult{TaskName: task.Name, Status: executor.StatusSuccess}
}

func (s *stubExecute) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// stubPuller fails for configured images.
type stubPuller struct {
	failing map[string]error
	calls   atomic.Int32
}

func (p *stubPuller) Pull(ctx context.Context, image string) error {
	p.calls.Add(1)
	if err, ok := p.failing[image]; ok {
		return err
	}
	return nil
}

func testTasks(t *testing.T) []*scheduler.BuildTask {
	t.Helper()
	tasks := []*scheduler.BuildTask{
		{Name: "linux-3.1", PlatformLabel: "linux", Version: "3.1"},
		{Name: "linux-3.2", PlatformLabel: "linux", Version: "3.2"},
		{Name: "img:x86_64-3.1", PlatformLabel: "container", Image: "img:x86_64", Version: "3.1"},
	}
	return tasks
}

func testResolver() *buildenv.Resolver {
	return buildenv.NewResolver(buildenv.Table{
		"linux": {
			"3.1": buildenv.Toolchain{Interpreter: "/opt/31/run"},
			"3.2": buildenv.Toolchain{Interpreter: "/opt/32/run"},
		},
	})
}

func testConfig(t *testing.T, exec *stubExecute, puller ImagePuller) Config {
	t.Helper()
	return Config{
		Concurrency: 4,
		Workspaces:  workspace.NewManager(workspace.Config{Root: t.TempDir()}),
		Resolver:    testResolver(),
		Execute:     exec.run,
		Puller:      puller,
		Retry: RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsedTime:  10 * time.Millisecond,
			Multiplier:      1.5,
		},
	}
}

// TestRunAllTasksComplete verifies the join-all contract: one result per
// task, independent failures included.
func TestRunAllTasksComplete(t *testing.T) {
	plan, err := scheduler.NewPlan(testTasks(t))
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	exec := &stubExecute{results: map[string]executor.BuildResult{
		"img:x86_64-3.1": {Status: executor.StatusTimedOut, ErrorDetail: "exceeded time limit of 1h0m0s"},
	}}
	r := NewParallelRunner(testConfig(t, exec, &stubPuller{}), plan)

	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	byName := make(map[string]executor.BuildResult)
	for _, res := range results {
		byName[res.TaskName] = res
	}

	// The timeout did not prevent the native builds from completing.
	if byName["linux-3.1"].Status != executor.StatusSuccess {
		t.Errorf("linux-3.1 status = %v", byName["linux-3.1"].Status)
	}
	if byName["linux-3.2"].Status != executor.StatusSuccess {
		t.Errorf("linux-3.2 status = %v", byName["linux-3.2"].Status)
	}
	if byName["img:x86_64-3.1"].Status != executor.StatusTimedOut {
		t.Errorf("container status = %v, want timed out", byName["img:x86_64-3.1"].Status)
	}

	summary := NewSummary(results)
	if summary.AllSucceeded() {
		t.Error("AllSucceeded() = true with a timed out task")
	}
}

// TestRunPreflightUnresolved verifies that one unresolvable task aborts
// the run before anything executes.
func TestRunPreflightUnresolved(t *testing.T) {
	tasks := append(testTasks(t), &scheduler.BuildTask{
		Name: "solaris-3.1", PlatformLabel: "solaris", Version: "3.1",
	})
	plan, err := scheduler.NewPlan(tasks)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	exec := &stubExecute{}
	r := NewParallelRunner(testConfig(t, exec, &stubPuller{}), plan)

	_, err = r.Run(context.Background())
	if !errors.Is(err, buildenv.ErrUnresolved) {
		t.Fatalf("Run() error = %v, want ErrUnresolved", err)
	}
	if !strings.Contains(err.Error(), "solaris-3.1") {
		t.Errorf("Error %q does not name the failing task", err.Error())
	}
	if len(exec.names()) != 0 {
		t.Errorf("Expected no execution, but ran %v", exec.names())
	}
}

// TestRunPullFailureIsolated verifies a failed image pull fails only the
// builds on that image.
func TestRunPullFailureIsolated(t *testing.T) {
	tasks := append(testTasks(t), &scheduler.BuildTask{
		Name: "other:arm64-3.1", PlatformLabel: "container", Image: "other:arm64", Version: "3.1",
	})
	plan, err := scheduler.NewPlan(tasks)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	exec := &stubExecute{}
	puller := &stubPuller{failing: map[string]error{
		"img:x86_64": errors.New("registry unreachable"),
	}}
	r := NewParallelRunner(testConfig(t, exec, puller), plan)

	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}

	byName := make(map[string]executor.BuildResult)
	for _, res := range results {
		byName[res.TaskName] = res
	}

	failed := byName["img:x86_64-3.1"]
	if failed.Status != executor.StatusFailure {
		t.Errorf("Build on failed image: status = %v, want failure", failed.Status)
	}
	if !strings.Contains(failed.ErrorDetail, "image pull failed") {
		t.Errorf("Detail %q does not mention the pull", failed.ErrorDetail)
	}

	// The other image's build and the native builds ran normally.
	for _, name := range []string{"linux-3.1", "linux-3.2", "other:arm64-3.1"} {
		if byName[name].Status != executor.StatusSuccess {
			t.Errorf("%s status = %v, want success", name, byName[name].Status)
		}
	}

	executed := exec.names()
	for _, name := range executed {
		if name == "img:x86_64-3.1" {
			t.Error("Build on failed image must never execute")
		}
	}
}

// TestRunConcurrencyLimit verifies the runner never exceeds its slot count.
func TestRunConcurrencyLimit(t *testing.T) {
	var tasks []*scheduler.BuildTask
	for i := 0; i < 8; i++ {
		tasks = append(tasks, &scheduler.BuildTask{
			Name:          fmt.Sprintf("container-task-%d", i),
			PlatformLabel: "container",
			Image:         "img:x86_64",
			Version:       fmt.Sprintf("v%d", i),
		})
	}
	plan, err := scheduler.NewPlan(tasks)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	var current, peak atomic.Int32
	cfg := testConfig(t, &stubExecute{}, &stubPuller{})
	cfg.Concurrency = 2
	cfg.Execute = func(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, timeLimit time.Duration) executor.BuildResult {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return executor.BuildResult{TaskName: task.Name, Status: executor.StatusSuccess}
	}

	r := NewParallelRunner(cfg, plan)
	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("Expected 8 results, got %d", len(results))
	}
	if peak.Load() > 2 {
		t.Errorf("Peak concurrency %d exceeded limit 2", peak.Load())
	}
}

// TestRunDependentsLaunchOnPrerequisite verifies a container build starts
// as soon as its image pull finishes, without waiting for unrelated builds
// that launched alongside the pull.
func TestRunDependentsLaunchOnPrerequisite(t *testing.T) {
	tasks := []*scheduler.BuildTask{
		{Name: "linux-3.1", PlatformLabel: "linux", Version: "3.1"},
		{Name: "img:x86_64-3.1", PlatformLabel: "container", Image: "img:x86_64", Version: "3.1"},
	}
	plan, err := scheduler.NewPlan(tasks)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	containerStarted := make(chan struct{})
	var stalled atomic.Bool

	cfg := testConfig(t, &stubExecute{}, &stubPuller{})
	cfg.Concurrency = 2
	cfg.Execute = func(ctx context.Context, task *scheduler.BuildTask, env buildenv.Environment, timeLimit time.Duration) executor.BuildResult {
		switch task.Name {
		case "linux-3.1":
			// Holds its slot until the container build starts. If dispatch
			// joined on this build before launching dependents of the
			// finished pull, the container build would never start.
			select {
			case <-containerStarted:
			case <-time.After(2 * time.Second):
				stalled.Store(true)
			}
		case "img:x86_64-3.1":
			close(containerStarted)
		}
		return executor.BuildResult{TaskName: task.Name, Status: executor.StatusSuccess}
	}

	r := NewParallelRunner(cfg, plan)
	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stalled.Load() {
		t.Error("Container build waited on an unrelated native build")
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != executor.StatusSuccess {
			t.Errorf("%s status = %v, want success", res.TaskName, res.Status)
		}
	}
}

// TestRunCancellation verifies cancellation stops new launches and records
// failures for never-started tasks.
func TestRunCancellation(t *testing.T) {
	plan, err := scheduler.NewPlan(testTasks(t))
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &stubExecute{}
	r := NewParallelRunner(testConfig(t, exec, &stubPuller{}), plan)

	results, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected a result per task, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != executor.StatusFailure {
			t.Errorf("%s status = %v, want failure", res.TaskName, res.Status)
		}
		if !strings.Contains(res.ErrorDetail, "canceled") {
			t.Errorf("%s detail = %q", res.TaskName, res.ErrorDetail)
		}
	}
	if len(exec.names()) != 0 {
		t.Errorf("Canceled run executed tasks: %v", exec.names())
	}
}

// TestRunPublishesEvents verifies lifecycle events reach bus subscribers.
func TestRunPublishesEvents(t *testing.T) {
	plan, err := scheduler.NewPlan(testTasks(t))
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	bus := events.NewEventBus()
	defer bus.Close()
	sub := bus.SubscribeAll(256)

	cfg := testConfig(t, &stubExecute{}, &stubPuller{})
	cfg.Bus = bus
	r := NewParallelRunner(cfg, plan)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	started, finished, pulls := 0, 0, 0
	for {
		select {
		case event := <-sub:
			switch event.(type) {
			case events.TaskStartedEvent:
				started++
			case events.TaskFinishedEvent:
				finished++
			case events.ImagePullEvent:
				pulls++
			}
		case <-time.After(50 * time.Millisecond):
			if started != 3 {
				t.Errorf("Expected 3 started events, got %d", started)
			}
			if finished != 3 {
				t.Errorf("Expected 3 finished events, got %d", finished)
			}
			if pulls != 2 {
				t.Errorf("Expected pull start and done events, got %d", pulls)
			}
			return
		}
	}
}
