package scheduler

import (
	"context"
	"time"

	"github.com/jethrojohnson/flowmake/internal/drm"
)

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusReady                   // All dependencies resolved, eligible to run
	StatusRunning                 // Currently executing
	StatusSucceeded               // Finished successfully
	StatusFailed                  // Finished with error
	StatusSkipped                 // Not run (fresh, or upstream failure)
)

// String returns the lowercase name used in reports and the run ledger.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// SkipReason distinguishes why a task was skipped. A fresh skip satisfies
// dependents; an upstream skip propagates.
type SkipReason int

const (
	SkipNone     SkipReason = iota
	SkipFresh               // Outputs already up to date
	SkipUpstream            // A dependency failed or was itself skipped
)

// BodyFunc is a local task body. It receives the task's resolved input and
// output paths plus the run's parameter map, and produces the outputs as a
// side effect. The engine never inspects its internals.
type BodyFunc func(ctx context.Context, inputs, outputs []string, params map[string]string) error

// Task is a unit of work in the graph. Exactly one of Body or Command is set
// for runnable tasks. A task with neither (and no outputs) is a collector:
// a named aggregation point that succeeds once its dependencies have.
type Task struct {
	Name    string
	Inputs  []string // Declared input artifact paths (empty for originate tasks)
	Outputs []string // Declared output artifact paths
	Follows []string // Explicit dependency edges (task names)

	Body      BodyFunc         // Local execution body
	Command   string           // Remote command template (rendered before execution)
	Resources drm.ResourceSpec // Native scheduler options for remote tasks

	Status     Status
	Skip       SkipReason
	Err        error
	Duration   time.Duration
	FinishedAt time.Time
}

// Remote reports whether the task runs as a submitted shell command.
func (t *Task) Remote() bool { return t.Command != "" }

// Collector reports whether the task is a pure aggregation target.
func (t *Task) Collector() bool {
	return t.Body == nil && t.Command == "" && len(t.Outputs) == 0
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Inputs = append([]string(nil), t.Inputs...)
	cp.Outputs = append([]string(nil), t.Outputs...)
	cp.Follows = append([]string(nil), t.Follows...)
	return &cp
}
