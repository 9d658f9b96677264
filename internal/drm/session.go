package drm

import (
	"context"
	"errors"
)

// ErrSession is the category sentinel for resource-manager session failures.
// Session-establishment failure is fatal for all remote tasks in a run.
var ErrSession = errors.New("resource manager session error")

// ErrSessionClosed is returned when submitting or polling through a closed
// session.
var ErrSessionClosed = errors.New("session closed")

// ErrUnknownJob is returned when polling a job the session never submitted.
var ErrUnknownJob = errors.New("unknown job")

// Session is an open connection to a distributed resource manager. Submit
// and Status may be called from concurrent workers. Close releases every
// backend handle (job templates, native session state) and must be called on
// all exit paths; it is safe to call more than once.
type Session interface {
	Submit(ctx context.Context, command string, spec ResourceSpec) (*Job, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
	Close() error
}

// Client opens sessions against a particular resource manager.
type Client interface {
	Open(ctx context.Context) (Session, error)
}
