package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jethrojohnson/flowmake/internal/drm"
	"github.com/jethrojohnson/flowmake/internal/events"
	"github.com/jethrojohnson/flowmake/internal/executor"
	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

func touchBody(t *testing.T) scheduler.BodyFunc {
	t.Helper()
	return func(ctx context.Context, inputs, outputs []string, params map[string]string) error {
		for _, out := range outputs {
			if err := os.WriteFile(out, []byte("ok\n"), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func failBody(msg string) scheduler.BodyFunc {
	return func(ctx context.Context, inputs, outputs []string, params map[string]string) error {
		return fmt.Errorf("%s", msg)
	}
}

func newTestRunner(g *scheduler.Graph) (*Runner, *scheduler.Oracle) {
	oracle := scheduler.NewOracle()
	waiter := drm.NewWaiter(drm.WaitConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Timeout:         5 * time.Second,
	})
	exec := executor.New(nil, waiter, nil)
	return NewRunner(g, oracle, exec, nil, nil), oracle
}

func statusOf(t *testing.T, rep *RunReport, name string) TaskResult {
	t.Helper()
	for _, res := range rep.Results {
		if res.Name == name {
			return res
		}
	}
	t.Fatalf("task %q not in report: %+v", name, rep.Results)
	return TaskResult{}
}

// Graph A -> B -> C plus independent D; A fails. Expected terminal states:
// A=Failed, B=Skipped, C=Skipped, D=Succeeded; overall success false.
func TestPartialFailureSkipsDownstreamOnly(t *testing.T) {
	dir := t.TempDir()
	g := scheduler.NewGraph()
	aOut := filepath.Join(dir, "a.txt")
	bOut := filepath.Join(dir, "b.txt")
	cOut := filepath.Join(dir, "c.txt")
	dOut := filepath.Join(dir, "d.txt")

	addAll(t, g,
		&scheduler.Task{Name: "A", Outputs: []string{aOut}, Body: failBody("A broke")},
		&scheduler.Task{Name: "B", Inputs: []string{aOut}, Outputs: []string{bOut}, Body: touchBody(t)},
		&scheduler.Task{Name: "C", Inputs: []string{bOut}, Outputs: []string{cOut}, Body: touchBody(t)},
		&scheduler.Task{Name: "D", Outputs: []string{dOut}, Body: touchBody(t)},
	)
	// Collector target pulls all four tasks into scope.
	addAll(t, g, &scheduler.Task{Name: "all", Follows: []string{"C", "D"}})

	runner, _ := newTestRunner(g)

	rep, err := runner.Run(context.Background(), "all", Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := statusOf(t, rep, "A"); got.Status != scheduler.StatusFailed {
		t.Errorf("A: expected failed, got %v", got.Status)
	}
	for _, name := range []string{"B", "C"} {
		got := statusOf(t, rep, name)
		if got.Status != scheduler.StatusSkipped || got.Skip != scheduler.SkipUpstream {
			t.Errorf("%s: expected upstream skip, got %v/%v", name, got.Status, got.Skip)
		}
	}
	if got := statusOf(t, rep, "D"); got.Status != scheduler.StatusSucceeded {
		t.Errorf("D: expected succeeded, got %v", got.Status)
	}
	if rep.Success {
		t.Error("run with a failed task must not report success")
	}
}

// Ten independent originate tasks with concurrency 4: all succeed and at
// most 4 are in flight at any instant.
func TestConcurrencyCap(t *testing.T) {
	dir := t.TempDir()
	g := scheduler.NewGraph()

	var inFlight, maxInFlight int64
	for i := 0; i < 10; i++ {
		out := filepath.Join(dir, fmt.Sprintf("task%02d.txt", i))
		name := fmt.Sprintf("task%02d", i)
		task := &scheduler.Task{
			Name:    name,
			Outputs: []string{out},
			Body: func(ctx context.Context, inputs, outputs []string, params map[string]string) error {
				n := atomic.AddInt64(&inFlight, 1)
				for {
					m := atomic.LoadInt64(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return os.WriteFile(outputs[0], []byte("ok\n"), 0o644)
			},
		}
		addAll(t, g, task)
	}
	addAll(t, g, &scheduler.Task{Name: "all", Follows: taskNames(10)})

	runner, _ := newTestRunner(g)
	rep, err := runner.Run(context.Background(), "all", Options{Concurrency: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !rep.Success {
		t.Fatal("expected success")
	}
	if rep.Executed() != 10 {
		t.Errorf("expected 10 executed tasks, got %d", rep.Executed())
	}
	if got := atomic.LoadInt64(&maxInFlight); got > 4 {
		t.Errorf("concurrency cap violated: %d tasks in flight", got)
	}
}

// A second run with unchanged inputs executes zero tasks; --force reruns.
func TestIdempotentSecondRun(t *testing.T) {
	dir := t.TempDir()
	g := buildChain(t, dir)

	runner, _ := newTestRunner(g)
	rep, err := runner.Run(context.Background(), "final", Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if rep.Executed() != 2 {
		t.Fatalf("first run should execute both tasks, executed %d", rep.Executed())
	}

	// Fresh graph and oracle, as a new process would have.
	g2 := buildChain(t, dir)
	runner2, _ := newTestRunner(g2)
	rep2, err := runner2.Run(context.Background(), "final", Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if rep2.Executed() != 0 {
		t.Errorf("second run should execute nothing, executed %d", rep2.Executed())
	}
	for _, name := range []string{"seed", "final"} {
		got := statusOf(t, rep2, name)
		if got.Status != scheduler.StatusSkipped || got.Skip != scheduler.SkipFresh {
			t.Errorf("%s: expected fresh skip, got %v/%v", name, got.Status, got.Skip)
		}
	}

	g3 := buildChain(t, dir)
	runner3, _ := newTestRunner(g3)
	rep3, err := runner3.Run(context.Background(), "final", Options{Concurrency: 2, Force: true})
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if rep3.Executed() != 2 {
		t.Errorf("forced run should execute both tasks, executed %d", rep3.Executed())
	}
}

// A task that under-produces is MissingOutput; dependents are skipped while
// independent siblings succeed.
func TestMissingOutputSkipsDependents(t *testing.T) {
	dir := t.TempDir()
	g := scheduler.NewGraph()
	liar := filepath.Join(dir, "liar.txt")
	down := filepath.Join(dir, "down.txt")
	side := filepath.Join(dir, "side.txt")

	addAll(t, g,
		&scheduler.Task{
			Name:    "liar",
			Outputs: []string{liar},
			Body: func(ctx context.Context, inputs, outputs []string, params map[string]string) error {
				return nil // claims success, produces nothing
			},
		},
		&scheduler.Task{Name: "down", Inputs: []string{liar}, Outputs: []string{down}, Body: touchBody(t)},
		&scheduler.Task{Name: "side", Outputs: []string{side}, Body: touchBody(t)},
		&scheduler.Task{Name: "all", Follows: []string{"down", "side"}},
	)

	runner, _ := newTestRunner(g)
	rep, err := runner.Run(context.Background(), "all", Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := statusOf(t, rep, "liar")
	if got.Status != scheduler.StatusFailed {
		t.Fatalf("liar: expected failed, got %v", got.Status)
	}
	var ee *executor.ExecutionError
	if !errors.As(got.Err, &ee) || ee.Kind != executor.KindMissingOutput {
		t.Errorf("liar: expected missing output error, got %v", got.Err)
	}
	if res := statusOf(t, rep, "down"); res.Status != scheduler.StatusSkipped {
		t.Errorf("down: expected skipped, got %v", res.Status)
	}
	if res := statusOf(t, rep, "side"); res.Status != scheduler.StatusSucceeded {
		t.Errorf("side: expected succeeded, got %v", res.Status)
	}
}

// Plan surfaces configuration errors before anything runs.
func TestPlanSurfacesConfigErrors(t *testing.T) {
	g := scheduler.NewGraph()
	addAll(t, g,
		&scheduler.Task{Name: "x", Inputs: []string{"y.txt"}, Outputs: []string{"x.txt"}, Body: nop},
		&scheduler.Task{Name: "y", Inputs: []string{"x.txt"}, Outputs: []string{"y.txt"}, Body: nop},
	)
	runner, _ := newTestRunner(g)
	if _, err := runner.Run(context.Background(), "x", Options{}); !errors.Is(err, scheduler.ErrConfig) {
		t.Fatalf("expected configuration error for cyclic graph, got %v", err)
	}

	g2 := scheduler.NewGraph()
	addAll(t, g2, &scheduler.Task{
		Name:    "remote",
		Outputs: []string{"out.txt"},
		Command: "tool --opt=${undeclared_param} > ${out1}",
	})
	runner2, _ := newTestRunner(g2)
	_, err := runner2.Plan("remote")
	var missing *executor.MissingKeyError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing key error at plan time, got %v", err)
	}
}

// Remote tasks run through the local session end to end.
func TestRunWithRemoteTasks(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.txt")
	upper := filepath.Join(dir, "upper.txt")

	g := scheduler.NewGraph()
	addAll(t, g,
		&scheduler.Task{Name: "seed", Outputs: []string{seed}, Body: touchBody(t)},
		&scheduler.Task{
			Name:    "upper",
			Inputs:  []string{seed},
			Outputs: []string{upper},
			Command: "tr a-z A-Z < ${in1} > ${out1}",
			Resources: drm.ResourceSpec{
				CopyEnvironment: true,
			},
		},
	)

	client := &drm.LocalClient{}
	session, err := client.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Close()

	oracle := scheduler.NewOracle()
	waiter := drm.NewWaiter(drm.WaitConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Timeout:         10 * time.Second,
	})
	exec := executor.New(session, waiter, nil)
	runner := NewRunner(g, oracle, exec, nil, nil)

	rep, err := runner.Run(context.Background(), "upper", Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !rep.Success {
		t.Fatalf("run failed: %+v", rep.Failed())
	}
	data, err := os.ReadFile(upper)
	if err != nil {
		t.Fatalf("remote output missing: %v", err)
	}
	if string(data) != "OK\n" {
		t.Errorf("unexpected remote output: %q", data)
	}
}

// Lifecycle events arrive on the bus in a sensible order.
func TestRunPublishesEvents(t *testing.T) {
	dir := t.TempDir()
	g := buildChain(t, dir)

	bus := events.NewBus()
	all := bus.SubscribeAll(64)

	oracle := scheduler.NewOracle()
	exec := executor.New(nil, nil, nil)
	runner := NewRunner(g, oracle, exec, bus, nil)

	if _, err := runner.Run(context.Background(), "final", Options{Concurrency: 1}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	bus.Close()

	var types []string
	for ev := range all {
		types = append(types, ev.EventType())
	}
	if len(types) == 0 {
		t.Fatal("expected events")
	}
	if types[0] != events.EventTypeBatchStarted {
		t.Errorf("first event should be batch start, got %s", types[0])
	}
	if types[len(types)-1] != events.EventTypeRunFinished {
		t.Errorf("last event should be run finished, got %s", types[len(types)-1])
	}
	succeeded := 0
	for _, typ := range types {
		if typ == events.EventTypeTaskSucceeded {
			succeeded++
		}
	}
	if succeeded != 2 {
		t.Errorf("expected 2 task succeeded events, got %d", succeeded)
	}
}

func nop(_ context.Context, _, _ []string, _ map[string]string) error { return nil }

func addAll(t *testing.T, g *scheduler.Graph, tasks ...*scheduler.Task) {
	t.Helper()
	for _, task := range tasks {
		if err := g.AddTask(task); err != nil {
			t.Fatalf("AddTask(%q) failed: %v", task.Name, err)
		}
	}
}

func taskNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("task%02d", i)
	}
	return names
}

// buildChain declares seed -> final writing into dir.
func buildChain(t *testing.T, dir string) *scheduler.Graph {
	t.Helper()
	seed := filepath.Join(dir, "seed.txt")
	final := filepath.Join(dir, "final.txt")
	g := scheduler.NewGraph()
	addAll(t, g,
		&scheduler.Task{Name: "seed", Outputs: []string{seed}, Body: touchBody(t)},
		&scheduler.Task{Name: "final", Inputs: []string{seed}, Outputs: []string{final}, Body: touchBody(t)},
	)
	return g
}
