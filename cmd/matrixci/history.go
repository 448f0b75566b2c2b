package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/buildmatrix/matrixci/internal/config"
	"github.com/buildmatrix/matrixci/internal/persistence"
	"github.com/buildmatrix/matrixci/internal/runner"
)

// runHistory implements the `history` command: with no arguments it lists
// recent runs, with a run ID it shows that run's task results.
func runHistory(args []string) int {
	fs := flag.NewFlagSet("matrixci history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	fs.Parse(args)

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitConfig
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := persistenceStore(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history database: %v\n", err)
		return exitConfig
	}
	defer store.Close()

	if fs.NArg() > 0 {
		return showRun(ctx, store, fs.Arg(0))
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
		return exitConfig
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return exitOK
	}

	fmt.Printf("%-36s  %-20s  %5s  %5s  %5s  %5s\n", "RUN", "STARTED", "TOTAL", "OK", "FAIL", "TIME")
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %5d  %5d  %5d  %5d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Total, r.Succeeded, r.Failed, r.TimedOut)
	}
	return exitOK
}

// showRun prints the per-task results of one recorded run.
func showRun(ctx context.Context, store persistence.Store, runID string) int {
	records, err := store.GetTaskRecords(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading run %s: %v\n", runID, err)
		return exitConfig
	}
	if len(records) == 0 {
		fmt.Printf("no results for run %s\n", runID)
		return exitOK
	}

	for _, rec := range records {
		fmt.Printf("%-40s %-10s %8s  %d artifacts\n",
			rec.TaskName, rec.Status,
			(time.Duration(rec.DurationMS) * time.Millisecond).String(),
			rec.Artifacts)
		if rec.Error != "" {
			fmt.Printf("    %s\n", rec.Error)
		}
	}
	return exitOK
}

// persistenceStore opens the history database at the configured path.
func persistenceStore(ctx context.Context, dbPath string) (persistence.Store, error) {
	return persistence.NewSQLiteStore(ctx, dbPath)
}

// historyRun builds the Run row for this invocation.
func historyRun(runID string, startedAt time.Time, total, succeeded, failed, timedOut int) persistence.Run {
	return persistence.Run{
		ID:         runID,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Total:      total,
		Succeeded:  succeeded,
		Failed:     failed,
		TimedOut:   timedOut,
	}
}

// historyRecords converts the run summary into task rows.
func historyRecords(runID string, summary runner.Summary) []persistence.TaskRecord {
	records := make([]persistence.TaskRecord, 0, len(summary.Results))
	for _, r := range summary.Results {
		records = append(records, persistence.TaskRecord{
			RunID:      runID,
			TaskName:   r.TaskName,
			Status:     r.Status.String(),
			DurationMS: r.Duration.Milliseconds(),
			Error:      r.ErrorDetail,
			Artifacts:  len(r.ArtifactPaths),
		})
	}
	return records
}
