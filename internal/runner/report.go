package runner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/buildmatrix/matrixci/internal/executor"
)

// Summary is the final per-run report: every task with its terminal
// status. The orchestrator process exits non-zero iff any task did not
// succeed.
type Summary struct {
	Results []executor.BuildResult
}

// NewSummary builds a summary with results sorted by task name, so the
// report is stable regardless of completion order.
func NewSummary(results []executor.BuildResult) Summary {
	sorted := append([]executor.BuildResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TaskName < sorted[j].TaskName
	})
	return Summary{Results: sorted}
}

// AllSucceeded reports whether every task reached StatusSuccess.
func (s Summary) AllSucceeded() bool {
	for _, r := range s.Results {
		if !r.Succeeded() {
			return false
		}
	}
	return true
}

// Counts returns per-status totals.
func (s Summary) Counts() (succeeded, failed, timedOut int) {
	for _, r := range s.Results {
		switch r.Status {
		case executor.StatusSuccess:
			succeeded++
		case executor.StatusFailure:
			failed++
		case executor.StatusTimedOut:
			timedOut++
		}
	}
	return
}

// String renders the plain-text report.
func (s Summary) String() string {
	var b strings.Builder

	for _, r := range s.Results {
		fmt.Fprintf(&b, "%-40s %-10s %8s", r.TaskName, r.Status, r.Duration.Round(time.Millisecond))
		if r.Succeeded() {
			fmt.Fprintf(&b, "  %d artifact(s)", len(r.ArtifactPaths))
		}
		b.WriteString("\n")
		if !r.Succeeded() && r.ErrorDetail != "" {
			for _, line := range strings.Split(strings.TrimSpace(r.ErrorDetail), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}

	succeeded, failed, timedOut := s.Counts()
	fmt.Fprintf(&b, "\n%d succeeded, %d failed, %d timed out\n", succeeded, failed, timedOut)
	return b.String()
}
