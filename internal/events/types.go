package events

import (
	"time"
)

// Event is the base interface for pipeline lifecycle events.
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
	EventTypeBatchStarted  = "run.batch_started"
	EventTypeRunFinished   = "run.finished"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskSucceeded = "task.succeeded"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskSkipped   = "task.skipped"
)

// BatchStartedEvent is published when a topological batch begins dispatch.
type BatchStartedEvent struct {
	Index     int // zero-based batch number
	Size      int
	Timestamp time.Time
}

func (e BatchStartedEvent) EventType() string { return EventTypeBatchStarted }
func (e BatchStartedEvent) TaskName() string  { return "" }

// RunFinishedEvent is published once all batches are terminal.
type RunFinishedEvent struct {
	Target    string
	Success   bool
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskName() string  { return "" }

// TaskStartedEvent is published when a task begins execution.
type TaskStartedEvent struct {
	Name      string
	Remote    bool
	Command   string // resolved command for remote tasks
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskName() string  { return e.Name }

// TaskSucceededEvent is published when a task completes successfully.
type TaskSucceededEvent struct {
	Name      string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskSucceededEvent) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceededEvent) TaskName() string  { return e.Name }

// TaskFailedEvent is published when a task reaches a failed terminal state.
type TaskFailedEvent struct {
	Name      string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskName() string  { return e.Name }

// TaskSkippedEvent is published when a task is skipped, either because its
// outputs are fresh or because an upstream task failed.
type TaskSkippedEvent struct {
	Name      string
	Fresh     bool // true: up to date; false: upstream failure
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) TaskName() string  { return e.Name }
