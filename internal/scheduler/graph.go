package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// Graph holds task definitions and their dependency edges. Edges come from
// two sources: explicit Follows declarations, and implicit edges derived by
// matching one task's declared inputs against another task's declared
// outputs. Implicit edges are resolved through an artifact index built once
// in Validate and checked for unique output ownership.
type Graph struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	producers map[string]string   // output path -> producing task name
	deps      map[string][]string // task -> full dependency set (after Validate)
	validated bool
}

// NewGraph creates an empty task graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:     make(map[string]*Task),
		producers: make(map[string]string),
		deps:      make(map[string][]string),
	}
}

// AddTask adds a task definition. Task names must be unique.
func (g *Graph) AddTask(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Name == "" {
		return fmt.Errorf("%w: task with empty name", ErrConfig)
	}
	if _, exists := g.tasks[t.Name]; exists {
		return fmt.Errorf("%w: task %q already exists", ErrConfig, t.Name)
	}
	if !t.Collector() && len(t.Outputs) == 0 {
		return fmt.Errorf("%w: task %q declares no outputs", ErrConfig, t.Name)
	}

	g.tasks[t.Name] = t
	g.validated = false
	return nil
}

// AddDependency adds an explicit edge from -> to, meaning to depends on from.
func (g *Graph) AddDependency(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, exists := g.tasks[to]
	if !exists {
		return &UnknownTaskError{Name: to}
	}
	t.Follows = append(t.Follows, from)
	g.validated = false
	return nil
}

// Validate builds the artifact index and the merged dependency sets, then
// verifies the graph is acyclic. It must be called (directly or via Resolve)
// before execution; any error it returns is fatal for the run.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	// Output ownership: each artifact path is produced by exactly one task.
	g.producers = make(map[string]string, len(g.tasks))
	for name, t := range g.tasks {
		for _, out := range t.Outputs {
			if prev, claimed := g.producers[out]; claimed {
				first, second := prev, name
				if second < first {
					first, second = second, first
				}
				return &DuplicateOutputError{Path: out, First: first, Second: second}
			}
			g.producers[out] = name
		}
	}

	// Merge explicit follows edges with implicit input/output matches.
	g.deps = make(map[string][]string, len(g.tasks))
	for name, t := range g.tasks {
		seen := make(map[string]bool)
		for _, dep := range t.Follows {
			if _, exists := g.tasks[dep]; !exists {
				return &UnknownTaskError{Name: dep, ReferredBy: name}
			}
			if dep != name && !seen[dep] {
				seen[dep] = true
				g.deps[name] = append(g.deps[name], dep)
			}
		}
		for _, in := range t.Inputs {
			producer, ok := g.producers[in]
			if !ok || producer == name {
				continue // externally supplied artifact
			}
			if !seen[producer] {
				seen[producer] = true
				g.deps[name] = append(g.deps[name], producer)
			}
		}
		sort.Strings(g.deps[name])
	}

	// Cycle detection via topological sort.
	var edges []toposort.Edge
	for name := range g.tasks {
		if len(g.deps[name]) == 0 {
			edges = append(edges, toposort.Edge{nil, name})
			continue
		}
		for _, dep := range g.deps[name] {
			edges = append(edges, toposort.Edge{dep, name})
		}
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return &CycleError{Tasks: g.unresolvedLocked()}
	}
	emitted := 0
	for _, id := range sorted {
		if id != nil {
			emitted++
		}
	}
	if emitted != len(g.tasks) {
		return &CycleError{Tasks: g.unresolvedLocked()}
	}

	g.validated = true
	return nil
}

// unresolvedLocked names the tasks a Kahn reduction never emits: the cycle
// members and everything downstream of them.
func (g *Graph) unresolvedLocked() []string {
	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for name := range g.tasks {
		indegree[name] = len(g.deps[name])
		for _, dep := range g.deps[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}
	var queue []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	var stuck []string
	for name, deg := range indegree {
		if deg > 0 {
			stuck = append(stuck, name)
		}
	}
	sort.Strings(stuck)
	return stuck
}

// Resolve returns the names of all tasks reachable by dependency edges into
// target, target included. The graph is validated first.
func (g *Graph) Resolve(target string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.validated {
		if err := g.validateLocked(); err != nil {
			return nil, err
		}
	}
	if _, exists := g.tasks[target]; !exists {
		return nil, &UnknownTaskError{Name: target}
	}

	reach := make(map[string]bool)
	stack := []string{target}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reach[name] {
			continue
		}
		reach[name] = true
		stack = append(stack, g.deps[name]...)
	}

	names := make([]string, 0, len(reach))
	for name := range reach {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Batches partitions the given task names into dependency-respecting sets.
// Tasks within a batch are mutually independent; every dependency of a task
// appears in a strictly earlier batch. Kahn-style in-degree reduction over
// the resolved subgraph. The caller must have validated the graph (Resolve
// does so).
func (g *Graph) Batches(names []string) ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, fmt.Errorf("%w: graph not validated", ErrConfig)
	}

	inSubgraph := make(map[string]bool, len(names))
	for _, name := range names {
		if _, exists := g.tasks[name]; !exists {
			return nil, &UnknownTaskError{Name: name}
		}
		inSubgraph[name] = true
	}

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		for _, dep := range g.deps[name] {
			if inSubgraph[dep] {
				indegree[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	var batches [][]string
	remaining := len(names)
	var current []string
	for name, deg := range indegree {
		if deg == 0 {
			current = append(current, name)
		}
	}
	for len(current) > 0 {
		sort.Strings(current)
		batches = append(batches, current)
		remaining -= len(current)

		var next []string
		for _, name := range current {
			for _, dependent := range dependents[name] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	if remaining > 0 {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Tasks: stuck}
	}

	return batches, nil
}

// Dependencies returns the merged (explicit + implicit) dependency set of a
// task. Valid after Validate.
func (g *Graph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[name]...)
}

// Producer returns the task that owns the given output path, if any.
// Valid after Validate.
func (g *Graph) Producer(path string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	name, ok := g.producers[path]
	return name, ok
}

// Get returns a copy of the named task.
func (g *Graph) Get(name string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, exists := g.tasks[name]
	if !exists {
		return nil, false
	}
	return cloneTask(t), true
}

// Tasks returns copies of all tasks, sorted by name.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tasks := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		tasks = append(tasks, cloneTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// MarkRunning transitions a task to StatusRunning.
func (g *Graph) MarkRunning(name string) error {
	return g.mark(name, func(t *Task) {
		t.Status = StatusRunning
	})
}

// MarkSucceeded records a successful terminal state.
func (g *Graph) MarkSucceeded(name string, d time.Duration) error {
	return g.mark(name, func(t *Task) {
		t.Status = StatusSucceeded
		t.Duration = d
		t.FinishedAt = time.Now()
	})
}

// MarkFailed records a failed terminal state.
func (g *Graph) MarkFailed(name string, taskErr error, d time.Duration) error {
	return g.mark(name, func(t *Task) {
		t.Status = StatusFailed
		t.Err = taskErr
		t.Duration = d
		t.FinishedAt = time.Now()
	})
}

// MarkSkipped records a skip with its reason.
func (g *Graph) MarkSkipped(name string, reason SkipReason) error {
	return g.mark(name, func(t *Task) {
		t.Status = StatusSkipped
		t.Skip = reason
		t.FinishedAt = time.Now()
	})
}

func (g *Graph) mark(name string, fn func(*Task)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, exists := g.tasks[name]
	if !exists {
		return &UnknownTaskError{Name: name}
	}
	fn(t)
	return nil
}
