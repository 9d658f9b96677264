package scheduler

import (
	"os"
	"sync"
	"time"
)

// Oracle decides whether a task's outputs are stale relative to its inputs
// and its upstream dependencies. Staleness follows make semantics: a task is
// stale if any declared output is missing, any output is older than any
// input, or any direct dependency was rebuilt during the current run.
// Rebuild propagation is exact because batches execute in dependency order:
// a rebuilt upstream marks its dependents stale, which rebuilds them, which
// marks theirs, and so on down the graph.
type Oracle struct {
	mu        sync.Mutex
	completed map[string]time.Time // task name -> completion time this run
}

// NewOracle creates a freshness oracle with no recorded completions.
func NewOracle() *Oracle {
	return &Oracle{completed: make(map[string]time.Time)}
}

// RecordCompletion notes that a task actually executed (was rebuilt) during
// this run. Fresh-skipped tasks are never recorded.
func (o *Oracle) RecordCompletion(name string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[name] = at
}

// CompletedAt returns the in-run completion time for a task, if it ran.
func (o *Oracle) CompletedAt(name string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.completed[name]
	return at, ok
}

// IsStale reports whether the task must run. Collectors carry no outputs and
// are never stale themselves; the orchestrator completes them trivially.
// False positives (an unnecessary rerun) are tolerated; false negatives are
// not, so any doubt (missing input, unreadable output) counts as stale.
func (o *Oracle) IsStale(g *Graph, t *Task) bool {
	if t.Collector() {
		return false
	}

	oldest, ok := o.oldestOutput(t)
	if !ok {
		return true // an output is missing
	}

	for _, in := range t.Inputs {
		info, err := os.Stat(in)
		if err != nil {
			return true // input missing: rerun and surface the real failure
		}
		if info.ModTime().After(oldest) {
			return true
		}
	}

	// A dependency rebuilt this run forces a rerun regardless of file
	// timestamps, which may have equal resolution.
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, dep := range g.Dependencies(t.Name) {
		if _, ran := o.completed[dep]; ran {
			return true
		}
	}
	return false
}

// oldestOutput returns the earliest modification time among declared
// outputs, or false if any output does not exist.
func (o *Oracle) oldestOutput(t *Task) (time.Time, bool) {
	var oldest time.Time
	for i, out := range t.Outputs {
		info, err := os.Stat(out)
		if err != nil {
			return time.Time{}, false
		}
		if i == 0 || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	return oldest, true
}
