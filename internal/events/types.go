package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskName() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskStarted  = "task.started"
	EventTypeTaskOutput   = "task.output"
	EventTypeTaskFinished = "task.finished"
	EventTypeImagePull    = "task.image_pull"
	EventTypeRunProgress  = "run.progress"
)

// TaskStartedEvent is published when a build task begins execution.
type TaskStartedEvent struct {
	Name          string
	PlatformLabel string
	Version       string
	Timestamp     time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskName() string  { return e.Name }

// TaskOutputEvent carries a chunk of build output for display.
type TaskOutputEvent struct {
	Name      string
	Line      string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskName() string  { return e.Name }

// TaskFinishedEvent is published when a build task reaches a terminal
// status (success, failure, or timeout).
type TaskFinishedEvent struct {
	Name      string
	Status    string // executor.Status string form
	Detail    string // Error detail for non-success statuses
	Artifacts int    // Number of staged artifacts
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) TaskName() string  { return e.Name }

// ImagePullEvent is published when a container image pull starts or ends.
type ImagePullEvent struct {
	Image     string
	Done      bool
	Err       error
	Timestamp time.Time
}

func (e ImagePullEvent) EventType() string { return EventTypeImagePull }
func (e ImagePullEvent) TaskName() string  { return "" }

// RunProgressEvent summarizes overall run progress after each change.
type RunProgressEvent struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskName() string  { return "" }
