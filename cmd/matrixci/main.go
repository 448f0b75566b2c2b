package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/buildmatrix/matrixci/internal/artifacts"
	"github.com/buildmatrix/matrixci/internal/buildenv"
	"github.com/buildmatrix/matrixci/internal/config"
	"github.com/buildmatrix/matrixci/internal/events"
	"github.com/buildmatrix/matrixci/internal/executor"
	"github.com/buildmatrix/matrixci/internal/registry"
	"github.com/buildmatrix/matrixci/internal/runner"
	"github.com/buildmatrix/matrixci/internal/scheduler"
	"github.com/buildmatrix/matrixci/internal/tui"
	"github.com/buildmatrix/matrixci/internal/workspace"
)

// Exit codes: 0 all tasks succeeded, 1 at least one task did not,
// 2 configuration or matrix error.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "history" {
		os.Exit(runHistory(os.Args[2:]))
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("matrixci", flag.ExitOnError)
	matrixPath := fs.String("matrix", "matrix.yaml", "path to the build matrix file")
	outDir := fs.String("out", "", "artifact output directory (overrides config)")
	concurrency := fs.Int("concurrency", 0, "max concurrent tasks (overrides config)")
	timeLimit := fs.Duration("time-limit", 0, "per-task wall-clock limit (overrides config)")
	plain := fs.Bool("plain", false, "line-oriented output instead of the interactive UI")
	dryRun := fs.Bool("dry-run", false, "print the expanded task list and launch order, then exit")
	fs.Parse(args)

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitConfig
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	limit := time.Duration(cfg.TimeLimitMinutes) * time.Minute
	if *timeLimit > 0 {
		limit = *timeLimit
	}

	matrix, err := registry.Load(*matrixPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading matrix: %v\n", err)
		return exitConfig
	}

	tasks, err := scheduler.Expand(matrix.Platforms)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error expanding matrix: %v\n", err)
		return exitConfig
	}

	plan, err := scheduler.NewPlan(tasks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building launch plan: %v\n", err)
		return exitConfig
	}
	order, err := plan.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error validating launch plan: %v\n", err)
		return exitConfig
	}

	if *dryRun {
		fmt.Printf("%d tasks from %s:\n", len(tasks), *matrixPath)
		for _, task := range tasks {
			fmt.Printf("  %s\n", task.Name)
		}
		fmt.Println("launch order:")
		for _, id := range order {
			fmt.Printf("  %s\n", id)
		}
		return exitOK
	}

	// Signal-aware context: the first Ctrl+C stops launching new tasks,
	// running ones finish under their own time limit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := executor.NewProcessManager()
	workspaces := workspace.NewManager(workspace.Config{Root: cfg.WorkRoot})
	exec := executor.New(workspaces, executor.StrategyConfig{
		Engine:    cfg.Engine,
		Build:     cfg.Build.Command,
		Smoke:     cfg.Build.Smoke,
		SourceDir: cfg.SourceDir,
	}, pm)

	bus := events.NewEventBus()
	defer bus.Close()

	par := runner.NewParallelRunner(runner.Config{
		Concurrency: cfg.Concurrency,
		TimeLimit:   limit,
		Workspaces:  workspaces,
		Resolver:    buildenv.NewResolver(matrix.Toolchains),
		Execute:     exec.Execute,
		Puller:      executor.NewPuller(cfg.Engine, pm),
		Bus:         bus,
	}, plan)

	runID := uuid.New().String()
	startedAt := time.Now()

	type runOutcome struct {
		results []executor.BuildResult
		err     error
	}
	done := make(chan runOutcome, 1)
	launch := func() {
		go func() {
			results, err := par.Run(ctx)
			done <- runOutcome{results, err}
		}()
	}

	// Observers subscribe before the first task launches so no lifecycle
	// event is missed.
	var outcome runOutcome
	if *plain {
		reporterDone := plainReporter(bus)
		launch()
		outcome = <-done
		bus.Close()
		<-reporterDone
	} else {
		p := tea.NewProgram(tui.New(bus), tea.WithAltScreen())
		uiDone := make(chan error, 1)
		go func() {
			_, err := p.Run()
			uiDone <- err
		}()
		launch()
		outcome = <-done
		p.Quit()
		select {
		case err := <-uiDone:
			if err != nil {
				log.Printf("WARNING: UI exit error: %v", err)
			}
		case <-time.After(10 * time.Second):
			log.Println("WARNING: UI shutdown timed out")
		}
	}

	// Kill anything still tracked; after a signal, running builds were
	// left to finish but must not outlive the process.
	if err := pm.KillAll(); err != nil {
		log.Printf("WARNING: killing subprocesses: %v", err)
	}

	if outcome.err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", outcome.err)
		return exitConfig
	}

	summary := runner.NewSummary(outcome.results)
	fmt.Println(summary.String())

	collected := artifacts.Collect(outcome.results, cfg.OutputDir)
	if len(collected) > 0 {
		fmt.Printf("collected %d artifacts into %s\n", len(collected), cfg.OutputDir)
	}

	uploadArtifacts(ctx, cfg, runID, collected)
	saveHistory(cfg, runID, startedAt, summary)

	if !summary.AllSucceeded() {
		return exitFailed
	}
	return exitOK
}

// plainReporter prints bus events as log lines until the bus closes.
func plainReporter(bus *events.EventBus) <-chan struct{} {
	sub := bus.SubscribeAll(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sub {
			switch e := event.(type) {
			case events.TaskStartedEvent:
				log.Printf("START  %s (%s %s)", e.Name, e.PlatformLabel, e.Version)
			case events.TaskFinishedEvent:
				log.Printf("DONE   %s: %s (%s, %d artifacts)", e.Name, e.Status, e.Duration.Round(time.Millisecond), e.Artifacts)
			case events.ImagePullEvent:
				switch {
				case e.Err != nil:
					log.Printf("PULL   %s failed: %v", e.Image, e.Err)
				case e.Done:
					log.Printf("PULL   %s done", e.Image)
				default:
					log.Printf("PULL   %s", e.Image)
				}
			}
		}
	}()
	return done
}

// uploadArtifacts pushes collected artifacts to the object store when one
// is configured. Upload failures are logged, never fatal.
func uploadArtifacts(ctx context.Context, cfg *config.RunnerConfig, runID string, paths []string) {
	if !cfg.Store.Enabled || len(paths) == 0 {
		return
	}
	store, err := artifacts.NewStore(ctx, cfg.Store)
	if err != nil {
		log.Printf("WARNING: artifact store unavailable: %v", err)
		return
	}
	uploaded := store.Upload(ctx, runID, cfg.OutputDir, paths)
	log.Printf("uploaded %d/%d artifacts to %s", uploaded, len(paths), cfg.Store.Bucket)
}

// saveHistory records the run and its task results in the history
// database. History failures are logged, never fatal.
func saveHistory(cfg *config.RunnerConfig, runID string, startedAt time.Time, summary runner.Summary) {
	if cfg.DatabasePath == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := persistenceStore(ctx, cfg.DatabasePath)
	if err != nil {
		log.Printf("WARNING: opening history database: %v", err)
		return
	}
	defer store.Close()

	succeeded, failed, timedOut := summary.Counts()
	if err := store.SaveRun(ctx, historyRun(runID, startedAt, len(summary.Results), succeeded, failed, timedOut)); err != nil {
		log.Printf("WARNING: saving run history: %v", err)
		return
	}
	if err := store.SaveTaskRecords(ctx, historyRecords(runID, summary)); err != nil {
		log.Printf("WARNING: saving task history: %v", err)
	}
}
