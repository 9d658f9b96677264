package executor

import (
	"fmt"
)

// Kind classifies a task execution failure.
type Kind int

const (
	KindBodyFailed       Kind = iota // Task body returned an error or panicked
	KindNonZeroExit                  // Remote command exited non-zero
	KindMissingOutput                // Task succeeded but a declared output is absent
	KindSubmissionFailed             // Job could not be submitted or tracked
	KindTimeout                      // Remote job never reached a terminal state
)

func (k Kind) String() string {
	switch k {
	case KindBodyFailed:
		return "body failed"
	case KindNonZeroExit:
		return "non-zero exit"
	case KindMissingOutput:
		return "missing output"
	case KindSubmissionFailed:
		return "submission failed"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// ExecutionError is the terminal error of a single task. It is local to that
// task: the orchestrator records it in the run report and continues with
// independent branches.
type ExecutionError struct {
	Task    string
	Kind    Kind
	Code    int    // Exit code for KindNonZeroExit
	Path    string // Offending path for KindMissingOutput
	Command string // Resolved command for remote tasks
	Cause   error
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("task %q: command %q exited with code %d", e.Task, e.Command, e.Code)
	case KindMissingOutput:
		return fmt.Sprintf("task %q: declared output %q was not produced", e.Task, e.Path)
	case KindTimeout:
		return fmt.Sprintf("task %q: %v", e.Task, e.Cause)
	default:
		return fmt.Sprintf("task %q: %s: %v", e.Task, e.Kind, e.Cause)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
