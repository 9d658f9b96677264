package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig is the category sentinel for fatal graph-construction errors.
// All configuration error types unwrap to it, so callers can test the
// category with errors.Is(err, scheduler.ErrConfig).
var ErrConfig = errors.New("configuration error")

// CycleError reports a dependency cycle, naming the tasks that could not be
// ordered.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency involving: %s", strings.Join(e.Tasks, ", "))
}

func (e *CycleError) Unwrap() error { return ErrConfig }

// DuplicateOutputError reports two tasks claiming the same output path.
type DuplicateOutputError struct {
	Path   string
	First  string
	Second string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("output %q claimed by both %q and %q", e.Path, e.First, e.Second)
}

func (e *DuplicateOutputError) Unwrap() error { return ErrConfig }

// UnknownTaskError reports a reference to a task name that was never added.
type UnknownTaskError struct {
	Name       string
	ReferredBy string // empty when the name was a run target
}

func (e *UnknownTaskError) Error() string {
	if e.ReferredBy == "" {
		return fmt.Sprintf("unknown task %q", e.Name)
	}
	return fmt.Sprintf("task %q depends on unknown task %q", e.ReferredBy, e.Name)
}

func (e *UnknownTaskError) Unwrap() error { return ErrConfig }
