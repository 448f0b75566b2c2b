package executor

import "time"

// Status is the terminal outcome of one build task.
type Status int

const (
	StatusSuccess  Status = iota // Build and smoke test passed, artifacts staged
	StatusFailure                // Non-zero exit from the build procedure
	StatusTimedOut               // Wall-clock limit exceeded; treated as failed, no retry
)

// String returns the lifecycle name used in reports and persistence.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// BuildResult is the immutable outcome of one BuildTask. Created exactly
// once when execution completes (or is forcibly timed out) and consumed
// by the aggregator and the final report.
type BuildResult struct {
	TaskName      string
	Status        Status
	ArtifactPaths []string // Staged artifact files; empty unless Status is Success
	ErrorDetail   string   // Captured diagnostics; empty iff Status is Success
	StartedAt     time.Time
	Duration      time.Duration
}

// Succeeded reports whether the task reached StatusSuccess.
func (r BuildResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
