package scheduler

import (
	"context"
	"errors"
	"testing"
)

func mustAdd(t *testing.T, g *Graph, task *Task) {
	t.Helper()
	if err := g.AddTask(task); err != nil {
		t.Fatalf("AddTask(%q) failed: %v", task.Name, err)
	}
}

func collector(name string, follows ...string) *Task {
	return &Task{Name: name, Follows: follows}
}

func producer(name string, inputs []string, outputs ...string) *Task {
	return &Task{Name: name, Inputs: inputs, Outputs: outputs, Body: nopBody}
}

func nopBody(_ context.Context, _, _ []string, _ map[string]string) error {
	return nil
}

func TestBatchesRespectDependencies(t *testing.T) {
	g := NewGraph()
	// Diamond: a -> b, a -> c, b/c -> d, plus explicit e -> d.
	mustAdd(t, g, producer("a", nil, "a.txt"))
	mustAdd(t, g, producer("b", []string{"a.txt"}, "b.txt"))
	mustAdd(t, g, producer("c", []string{"a.txt"}, "c.txt"))
	mustAdd(t, g, producer("d", []string{"b.txt", "c.txt"}, "d.txt"))
	mustAdd(t, g, producer("e", nil, "e.txt"))
	if err := g.AddDependency("e", "d"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	names, err := g.Resolve("d")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	batches, err := g.Batches(names)
	if err != nil {
		t.Fatalf("Batches failed: %v", err)
	}

	batchOf := make(map[string]int)
	for i, batch := range batches {
		for _, name := range batch {
			batchOf[name] = i
		}
	}
	if len(batchOf) != 5 {
		t.Fatalf("expected 5 tasks in batches, got %d", len(batchOf))
	}
	for _, name := range names {
		for _, dep := range g.Dependencies(name) {
			if batchOf[dep] >= batchOf[name] {
				t.Errorf("dependency %q (batch %d) not strictly before %q (batch %d)",
					dep, batchOf[dep], name, batchOf[name])
			}
		}
	}

	// Tasks with no dependencies and no inputs land in the first batch.
	if batchOf["a"] != 0 || batchOf["e"] != 0 {
		t.Errorf("originate tasks not in first batch: a=%d e=%d", batchOf["a"], batchOf["e"])
	}
}

func TestImplicitEdgesFromArtifactIndex(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("writer", nil, "data.txt"))
	mustAdd(t, g, producer("reader", []string{"data.txt"}, "result.txt"))
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	deps := g.Dependencies("reader")
	if len(deps) != 1 || deps[0] != "writer" {
		t.Fatalf("expected implicit edge writer -> reader, got deps %v", deps)
	}
	if name, ok := g.Producer("data.txt"); !ok || name != "writer" {
		t.Fatalf("artifact index wrong: %q %v", name, ok)
	}
}

func TestExternallySuppliedInputHasNoEdge(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("solo", []string{"external.txt"}, "out.txt"))
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if deps := g.Dependencies("solo"); len(deps) != 0 {
		t.Fatalf("expected no dependencies, got %v", deps)
	}
}

func TestCycleDetectionNamesTasks(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("x", []string{"y.txt"}, "x.txt"))
	mustAdd(t, g, producer("y", []string{"x.txt"}, "y.txt"))
	mustAdd(t, g, producer("free", nil, "free.txt"))

	err := g.Validate()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrConfig) {
		t.Error("cycle error should be a configuration error")
	}
	found := map[string]bool{}
	for _, name := range cycleErr.Tasks {
		found[name] = true
	}
	if !found["x"] || !found["y"] {
		t.Errorf("cycle error should name x and y, named %v", cycleErr.Tasks)
	}
	if found["free"] {
		t.Errorf("cycle error should not name unrelated task, named %v", cycleErr.Tasks)
	}
}

func TestDuplicateOutputOwnership(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("first", nil, "shared.txt"))
	mustAdd(t, g, producer("second", nil, "shared.txt"))

	err := g.Validate()
	var dupErr *DuplicateOutputError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected *DuplicateOutputError, got %T: %v", err, err)
	}
	if dupErr.Path != "shared.txt" {
		t.Errorf("wrong path: %q", dupErr.Path)
	}
	if !errors.Is(err, ErrConfig) {
		t.Error("duplicate output should be a configuration error")
	}
}

func TestResolveSubgraph(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("a", nil, "a.txt"))
	mustAdd(t, g, producer("b", []string{"a.txt"}, "b.txt"))
	mustAdd(t, g, producer("unrelated", nil, "u.txt"))
	mustAdd(t, g, collector("all", "b", "unrelated"))

	names, err := g.Resolve("b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected [a b], got %v", names)
	}

	names, err = g.Resolve("all")
	if err != nil {
		t.Fatalf("Resolve(all) failed: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("expected 4 tasks for all, got %v", names)
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("a", nil, "a.txt"))
	_, err := g.Resolve("missing")
	var unknownErr *UnknownTaskError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected *UnknownTaskError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrConfig) {
		t.Error("unknown target should be a configuration error")
	}
}

func TestFollowsUnknownTask(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, &Task{Name: "a", Outputs: []string{"a.txt"}, Body: nopBody, Follows: []string{"ghost"}})
	err := g.Validate()
	var unknownErr *UnknownTaskError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected *UnknownTaskError, got %T: %v", err, err)
	}
	if unknownErr.Name != "ghost" || unknownErr.ReferredBy != "a" {
		t.Errorf("wrong error detail: %+v", unknownErr)
	}
}

func TestDuplicateTaskName(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, producer("same", nil, "one.txt"))
	if err := g.AddTask(producer("same", nil, "two.txt")); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
