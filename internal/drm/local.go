package drm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalClient runs submitted commands as local subprocesses. It stands in
// for a cluster resource manager when a pipeline runs on a single machine,
// and carries the same session and job lifecycle so the executor cannot
// tell the difference.
type LocalClient struct {
	Shell string // defaults to /bin/sh
}

// Open establishes a local session. It cannot fail, but keeps the Client
// signature so callers treat session establishment uniformly.
func (c *LocalClient) Open(ctx context.Context) (Session, error) {
	shell := c.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return &localSession{
		shell: shell,
		jobs:  make(map[string]*localJob),
		procs: newProcessTable(),
	}, nil
}

type localJob struct {
	mu     sync.Mutex
	status JobStatus
	done   chan struct{}
}

func (j *localJob) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *localJob) getStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

type localSession struct {
	shell string

	mu     sync.Mutex
	jobs   map[string]*localJob
	procs  *processTable
	closed bool
	wg     sync.WaitGroup
}

// Submit starts the command in its own process group and returns
// immediately; completion is observed through Status.
func (s *localSession) Submit(ctx context.Context, command string, spec ResourceSpec) (*Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrSession, ErrSessionClosed)
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := localCommand(s.shell, command)
	cmd.Env = jobEnviron(spec)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %q: %w", ErrSession, command, err)
	}
	s.procs.track(cmd)

	job := &Job{ID: uuid.NewString(), Command: command, Spec: spec}
	lj := &localJob{done: make(chan struct{})}
	lj.setStatus(JobStatus{State: JobRunning})

	s.mu.Lock()
	s.jobs[job.ID] = lj
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(lj.done)
		err := cmd.Wait()
		s.procs.untrack(cmd)

		switch {
		case err == nil:
			lj.setStatus(JobStatus{State: JobCompleted, ExitCode: 0})
		case cmd.ProcessState != nil && cmd.ProcessState.ExitCode() >= 0:
			lj.setStatus(JobStatus{
				State:    JobCompleted,
				ExitCode: cmd.ProcessState.ExitCode(),
				Reason:   strings.TrimSpace(stderr.String()),
			})
		default:
			// Killed or otherwise died without an exit status.
			reason := err.Error()
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				reason = fmt.Sprintf("%s: %s", reason, msg)
			}
			lj.setStatus(JobStatus{State: JobFailed, Reason: reason})
		}
	}()

	return job, nil
}

// Status returns the job's current state.
func (s *localSession) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	s.mu.Lock()
	lj, ok := s.jobs[jobID]
	closed := s.closed
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if closed {
		return JobStatus{}, ErrSessionClosed
	}
	return lj.getStatus(), nil
}

// Close kills any still-running process groups and waits for their reapers,
// so no handles or children leak past the session. Safe to call twice.
func (s *localSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.procs.killAll()
	s.wg.Wait()
	return err
}

// jobEnviron builds the subprocess environment from the resource spec.
func jobEnviron(spec ResourceSpec) []string {
	var env []string
	if spec.CopyEnvironment {
		env = os.Environ()
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}
