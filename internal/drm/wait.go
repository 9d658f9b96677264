package drm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// ErrWaitTimeout is returned when a job does not reach a terminal state
// within the configured wait timeout.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// errNotTerminal drives the retry loop; never surfaced to callers.
var errNotTerminal = errors.New("job not yet terminal")

// WaitConfig bounds the status-poll loop.
type WaitConfig struct {
	InitialInterval time.Duration // First poll delay (default 100ms)
	MaxInterval     time.Duration // Poll delay ceiling (default 10s)
	Timeout         time.Duration // Total wait budget (default 1h)
}

// DefaultWaitConfig returns the default polling bounds.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Timeout:         time.Hour,
	}
}

func (c WaitConfig) withDefaults() WaitConfig {
	d := DefaultWaitConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Waiter blocks until a job reaches a terminal state, polling the session
// with exponential backoff. Status calls go through a circuit breaker so a
// busy or unavailable backend is probed gently instead of hammered; while
// the breaker is open the backoff loop keeps waiting until the timeout.
type Waiter struct {
	cfg     WaitConfig
	breaker *gobreaker.CircuitBreaker
}

// NewWaiter creates a Waiter with the given polling bounds.
func NewWaiter(cfg WaitConfig) *Waiter {
	return &Waiter{
		cfg: cfg.withDefaults(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "drm-status",
			MaxRequests: 3,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("circuit breaker %q: %s -> %s", name, from, to)
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				// Cancellation is not a backend fault.
				return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

// Wait polls the job's status until it is terminal, the context is
// cancelled, or the wait budget is exhausted. On budget exhaustion it
// returns ErrWaitTimeout rather than blocking indefinitely.
func (w *Waiter) Wait(ctx context.Context, s Session, job *Job) (JobStatus, error) {
	var status JobStatus

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		result, err := w.breaker.Execute(func() (interface{}, error) {
			return s.Status(ctx, job.ID)
		})
		if err != nil {
			if errors.Is(err, ErrUnknownJob) || errors.Is(err, ErrSessionClosed) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			// Open breaker or transient poll failure: keep backing off.
			return err
		}

		status = result.(JobStatus)
		if !status.Terminal() {
			return errNotTerminal
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.InitialInterval
	policy.MaxInterval = w.cfg.MaxInterval
	policy.MaxElapsedTime = w.cfg.Timeout

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err == nil {
		return status, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return status, ctxErr
	}
	if errors.Is(err, ErrUnknownJob) || errors.Is(err, ErrSessionClosed) {
		return status, err
	}
	// Retry budget exhausted: whether the job never went terminal or the
	// backend never answered, the caller sees a timeout.
	return status, fmt.Errorf("%w %s after %s: %v", ErrWaitTimeout, job.ID, w.cfg.Timeout, err)
}
