package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jethrojohnson/flowmake/internal/events"
	"github.com/jethrojohnson/flowmake/internal/executor"
	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// Options configure a run.
type Options struct {
	Concurrency int  // Max tasks in flight per batch (default 4)
	Force       bool // Bypass freshness checks and rerun everything
}

// Plan is the validated execution plan for a target: the resolved subgraph
// partitioned into batches, with every remote command already rendered so
// substitution failures surface before anything runs.
type Plan struct {
	Target   string
	Names    []string
	Batches  [][]string
	Commands map[string]string // task name -> resolved command (remote tasks)
	Stale    map[string]bool   // freshness snapshot at plan time
}

// Runner walks a task graph in dependency order, filters fresh tasks, and
// dispatches the rest to the executor with bounded concurrency. The graph
// and per-task state are mutated only through graph methods; workers write
// back a single terminal result each.
type Runner struct {
	graph  *scheduler.Graph
	oracle *scheduler.Oracle
	exec   *executor.Executor
	locker *scheduler.PathLocker
	bus    *events.Bus // optional; nil disables event publication
	params map[string]string
}

// NewRunner creates a Runner. bus may be nil.
func NewRunner(g *scheduler.Graph, oracle *scheduler.Oracle, exec *executor.Executor, bus *events.Bus, params map[string]string) *Runner {
	return &Runner{
		graph:  g,
		oracle: oracle,
		exec:   exec,
		locker: scheduler.NewPathLocker(),
		bus:    bus,
		params: params,
	}
}

// Plan validates the graph, resolves the target subgraph, computes batches,
// and renders every remote command. Any error is a configuration error and
// fatal for the run.
func (r *Runner) Plan(target string) (*Plan, error) {
	names, err := r.graph.Resolve(target)
	if err != nil {
		return nil, err
	}
	batches, err := r.graph.Batches(names)
	if err != nil {
		return nil, err
	}

	commands := make(map[string]string)
	stale := make(map[string]bool, len(names))
	for _, name := range names {
		t, _ := r.graph.Get(name)
		if t.Remote() {
			cmd, err := executor.RenderCommand(t, r.params)
			if err != nil {
				return nil, err
			}
			commands[name] = cmd
		}
		stale[name] = r.oracle.IsStale(r.graph, t)
	}

	return &Plan{
		Target:   target,
		Names:    names,
		Batches:  batches,
		Commands: commands,
		Stale:    stale,
	}, nil
}

// Run executes the target subgraph and reports every task's terminal state.
// A task failure skips its transitive dependents but never aborts
// independent branches; the error return is reserved for configuration
// errors and context cancellation.
func (r *Runner) Run(ctx context.Context, target string, opts Options) (*RunReport, error) {
	plan, err := r.Plan(target)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	report := &RunReport{
		Target:  target,
		Started: time.Now(),
		Batches: plan.Batches,
	}

	// Tasks whose failure or skip blocks their dependents.
	var mu sync.Mutex
	blocked := make(map[string]bool)

	for i, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			r.finish(report, plan)
			return report, err
		}
		r.publish(events.TopicRun, events.BatchStartedEvent{Index: i, Size: len(batch), Timestamp: time.Now()})

		toRun := make([]*scheduler.Task, 0, len(batch))
		for _, name := range batch {
			t, _ := r.graph.Get(name)

			if r.upstreamBlocked(name, blocked) {
				_ = r.graph.MarkSkipped(name, scheduler.SkipUpstream)
				blocked[name] = true
				r.publish(events.TopicTask, events.TaskSkippedEvent{Name: name, Fresh: false, Timestamp: time.Now()})
				continue
			}
			if !opts.Force && !r.oracle.IsStale(r.graph, t) {
				_ = r.graph.MarkSkipped(name, scheduler.SkipFresh)
				r.publish(events.TopicTask, events.TaskSkippedEvent{Name: name, Fresh: true, Timestamp: time.Now()})
				continue
			}
			toRun = append(toRun, t)
		}

		g := new(errgroup.Group)
		g.SetLimit(opts.Concurrency)
		for _, t := range toRun {
			t := t
			g.Go(func() error {
				r.executeTask(ctx, t, plan.Commands[t.Name], &mu, blocked)
				return nil
			})
		}
		// Batch barrier: every task here is terminal before the next batch
		// starts, so downstream tasks never read partial outputs.
		_ = g.Wait()
	}

	r.finish(report, plan)
	r.publish(events.TopicRun, events.RunFinishedEvent{Target: target, Success: report.Success, Timestamp: time.Now()})
	return report, nil
}

// upstreamBlocked reports whether any dependency failed or was skipped due
// to an upstream failure.
func (r *Runner) upstreamBlocked(name string, blocked map[string]bool) bool {
	for _, dep := range r.graph.Dependencies(name) {
		if blocked[dep] {
			return true
		}
	}
	return false
}

func (r *Runner) executeTask(ctx context.Context, t *scheduler.Task, command string, mu *sync.Mutex, blocked map[string]bool) {
	if err := ctx.Err(); err != nil {
		_ = r.graph.MarkFailed(t.Name, err, 0)
		mu.Lock()
		blocked[t.Name] = true
		mu.Unlock()
		return
	}

	_ = r.graph.MarkRunning(t.Name)
	r.publish(events.TopicTask, events.TaskStartedEvent{
		Name:      t.Name,
		Remote:    t.Remote(),
		Command:   command,
		Timestamp: time.Now(),
	})

	r.locker.Acquire(t.Outputs)
	defer r.locker.Release(t.Outputs)

	start := time.Now()
	err := r.exec.Execute(ctx, t, command)
	elapsed := time.Since(start)

	if err != nil {
		_ = r.graph.MarkFailed(t.Name, err, elapsed)
		mu.Lock()
		blocked[t.Name] = true
		mu.Unlock()
		r.publish(events.TopicTask, events.TaskFailedEvent{Name: t.Name, Err: err, Duration: elapsed, Timestamp: time.Now()})
		return
	}

	_ = r.graph.MarkSucceeded(t.Name, elapsed)
	r.oracle.RecordCompletion(t.Name, time.Now())
	r.publish(events.TopicTask, events.TaskSucceededEvent{Name: t.Name, Duration: elapsed, Timestamp: time.Now()})
}

// finish assembles per-task results in batch order and sets the overall
// success flag.
func (r *Runner) finish(report *RunReport, plan *Plan) {
	report.Finished = time.Now()
	report.Success = true
	for _, batch := range plan.Batches {
		for _, name := range batch {
			t, ok := r.graph.Get(name)
			if !ok {
				continue
			}
			report.Results = append(report.Results, TaskResult{
				Name:     t.Name,
				Status:   t.Status,
				Skip:     t.Skip,
				Remote:   t.Remote(),
				Command:  plan.Commands[name],
				Err:      t.Err,
				Duration: t.Duration,
			})
			if t.Status == scheduler.StatusFailed {
				report.Success = false
			}
		}
	}
}

func (r *Runner) publish(topic string, e events.Event) {
	if r.bus != nil {
		r.bus.Publish(topic, e)
	}
}
