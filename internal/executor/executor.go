package executor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jethrojohnson/flowmake/internal/drm"
	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// Executor runs a single task body to completion. Local bodies run on the
// calling goroutine; remote bodies are submitted through the resource
// manager session and block until the job's terminal state is known. All
// failures come back as *ExecutionError so the orchestrator can record them
// without inspecting causes.
type Executor struct {
	session drm.Session // nil when no remote session is available
	waiter  *drm.Waiter
	params  map[string]string
}

// New creates an Executor. session may be nil, in which case every remote
// task fails with a submission error referencing the session failure.
func New(session drm.Session, waiter *drm.Waiter, params map[string]string) *Executor {
	if waiter == nil {
		waiter = drm.NewWaiter(drm.DefaultWaitConfig())
	}
	return &Executor{session: session, waiter: waiter, params: params}
}

// Execute runs the task and verifies its declared outputs exist afterwards.
// command is the pre-rendered shell statement for remote tasks (rendered at
// plan time so substitution failures surface before anything runs).
func (e *Executor) Execute(ctx context.Context, t *scheduler.Task, command string) error {
	switch {
	case t.Collector():
		return nil
	case t.Remote():
		if err := e.runRemote(ctx, t, command); err != nil {
			return err
		}
	default:
		if err := e.runLocal(ctx, t); err != nil {
			return err
		}
	}
	return e.verifyOutputs(t)
}

func (e *Executor) runLocal(ctx context.Context, t *scheduler.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{
				Task:  t.Name,
				Kind:  KindBodyFailed,
				Cause: fmt.Errorf("panic: %v", r),
			}
		}
	}()
	if bodyErr := t.Body(ctx, t.Inputs, t.Outputs, e.params); bodyErr != nil {
		return &ExecutionError{Task: t.Name, Kind: KindBodyFailed, Cause: bodyErr}
	}
	return nil
}

func (e *Executor) runRemote(ctx context.Context, t *scheduler.Task, command string) error {
	if e.session == nil {
		return &ExecutionError{
			Task:    t.Name,
			Kind:    KindSubmissionFailed,
			Command: command,
			Cause:   drm.ErrSession,
		}
	}

	job, err := e.session.Submit(ctx, command, t.Resources)
	if err != nil {
		return &ExecutionError{Task: t.Name, Kind: KindSubmissionFailed, Command: command, Cause: err}
	}

	status, err := e.waiter.Wait(ctx, e.session, job)
	if err != nil {
		kind := KindSubmissionFailed
		if errors.Is(err, drm.ErrWaitTimeout) {
			kind = KindTimeout
		}
		return &ExecutionError{Task: t.Name, Kind: kind, Command: command, Cause: err}
	}

	switch {
	case status.State == drm.JobFailed:
		return &ExecutionError{
			Task:    t.Name,
			Kind:    KindBodyFailed,
			Command: command,
			Cause:   fmt.Errorf("job %s failed: %s", job.ID, status.Reason),
		}
	case status.ExitCode != 0:
		cause := fmt.Errorf("exit code %d", status.ExitCode)
		if status.Reason != "" {
			cause = fmt.Errorf("exit code %d: %s", status.ExitCode, status.Reason)
		}
		return &ExecutionError{
			Task:    t.Name,
			Kind:    KindNonZeroExit,
			Code:    status.ExitCode,
			Command: command,
			Cause:   cause,
		}
	}
	return nil
}

// verifyOutputs guards against tasks that report success without producing
// everything they declared.
func (e *Executor) verifyOutputs(t *scheduler.Task) error {
	for _, out := range t.Outputs {
		if _, err := os.Stat(out); err != nil {
			return &ExecutionError{Task: t.Name, Kind: KindMissingOutput, Path: out, Cause: err}
		}
	}
	return nil
}
