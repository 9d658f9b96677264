package orchestrator

import (
	"time"

	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// TaskResult is the terminal record of one task in a run.
type TaskResult struct {
	Name     string
	Status   scheduler.Status
	Skip     scheduler.SkipReason
	Remote   bool
	Command  string // resolved command for remote tasks
	Err      error
	Duration time.Duration
}

// RunReport enumerates every task's terminal state for a run. Success is
// true iff no task failed; fresh skips and upstream skips both leave it set.
type RunReport struct {
	Target   string
	Started  time.Time
	Finished time.Time
	Batches  [][]string
	Results  []TaskResult
	Success  bool
}

// Executed returns how many tasks actually ran (succeeded or failed).
func (r *RunReport) Executed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == scheduler.StatusSucceeded || res.Status == scheduler.StatusFailed {
			n++
		}
	}
	return n
}

// Failed returns the results of tasks that reached a failed state.
func (r *RunReport) Failed() []TaskResult {
	var failed []TaskResult
	for _, res := range r.Results {
		if res.Status == scheduler.StatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
