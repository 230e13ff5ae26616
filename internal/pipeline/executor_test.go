package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func failing(name, detail string) Operation[testState] {
	return func(ctx context.Context, s *testState) Result {
		s.visited = append(s.visited, name)
		return Failure(KindFatal, detail)
	}
}

func contractGraph(t *testing.T, ops map[string]Operation[testState]) *Graph[testState] {
	t.Helper()
	g := NewGraph[testState]()
	chain := [][2]string{
		{"generate", ""},
		{"compile", "generate"},
		{"analyze", "compile"},
		{"save-contract", "compile"},
		{"save-report", "analyze"},
	}
	for _, link := range chain {
		op, ok := ops[link[0]]
		if !ok {
			op = record(link[0])
		}
		var deps []string
		if link[1] != "" {
			deps = append(deps, link[1])
		}
		if err := g.AddStep(link[0], op, deps...); err != nil {
			t.Fatalf("add %s: %v", link[0], err)
		}
	}
	return g
}

func TestExecutorRunsAllStepsInOrder(t *testing.T) {
	g := contractGraph(t, nil)
	state := &testState{}

	out, err := NewExecutor[testState](nil).Run(context.Background(), g, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected OK outcome, got %+v", out)
	}
	want := "generate,compile,analyze,save-contract,save-report"
	if got := strings.Join(state.visited, ","); got != want {
		t.Fatalf("visited %s, want %s", got, want)
	}
	if out.Reached != "save-report" {
		t.Fatalf("reached = %q", out.Reached)
	}
	for _, name := range g.Steps() {
		if !out.ResultOf(name).Succeeded() {
			t.Fatalf("step %s: %v", name, out.ResultOf(name))
		}
	}
}

func TestExecutorAbortsOnFirstFailure(t *testing.T) {
	g := contractGraph(t, map[string]Operation[testState]{
		"compile": failing("compile", "solc exited 1"),
	})
	state := &testState{}

	out, err := NewExecutor[testState](nil).Run(context.Background(), g, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.OK {
		t.Fatalf("expected failed outcome")
	}
	if out.FailedStep != "compile" || out.Reached != "compile" {
		t.Fatalf("failed=%q reached=%q", out.FailedStep, out.Reached)
	}
	if got := out.ResultOf("compile"); !got.Failed() || got.Detail != "solc exited 1" {
		t.Fatalf("compile result = %v", got)
	}
	for _, name := range []string{"analyze", "save-contract", "save-report"} {
		if res := out.ResultOf(name); res.Ran() || res.Status != StatusNotRun {
			t.Fatalf("step %s must not run after failure, got %v", name, res)
		}
	}
	if got := strings.Join(out.Executed(), ","); got != "generate,compile" {
		t.Fatalf("executed = %s", got)
	}
}

func TestExecutorAbortSkipsUnrelatedSteps(t *testing.T) {
	// save-contract does not depend on analyze but still must not run.
	g := contractGraph(t, map[string]Operation[testState]{
		"analyze": failing("analyze", "slither crashed"),
	})
	state := &testState{}

	out, err := NewExecutor[testState](nil).Run(context.Background(), g, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ResultOf("save-contract").Ran() {
		t.Fatalf("save-contract ran after analyze failure")
	}
}

func TestExecutorCycleRunsNothing(t *testing.T) {
	g := contractGraph(t, nil)
	if err := g.Connect("save-report", "compile"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	state := &testState{}

	_, err := NewExecutor[testState](nil).Run(context.Background(), g, state)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if len(state.visited) != 0 {
		t.Fatalf("no step may run on a cyclic graph, ran %v", state.visited)
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	g := contractGraph(t, map[string]Operation[testState]{
		"generate": func(ctx context.Context, s *testState) Result {
			var m map[string]int
			m["boom"]++
			return Success("")
		},
	})

	out, err := NewExecutor[testState](nil).Run(context.Background(), g, &testState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := out.ResultOf("generate")
	if !res.Failed() || res.Kind != KindPanic {
		t.Fatalf("expected panic failure, got %v", res)
	}
	if out.ResultOf("compile").Ran() {
		t.Fatalf("compile ran after panic")
	}
}

func TestExecutorTreatsZeroResultAsFailure(t *testing.T) {
	g := NewGraph[testState]()
	if err := g.AddStep("noop", func(ctx context.Context, s *testState) Result { return Result{} }); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err := NewExecutor[testState](nil).Run(context.Background(), g, &testState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.OK || !out.ResultOf("noop").Failed() {
		t.Fatalf("expected zero result to fail the run, got %+v", out)
	}
}

func TestExecutorRequiresState(t *testing.T) {
	g := contractGraph(t, nil)
	if _, err := NewExecutor[testState](nil).Run(context.Background(), g, nil); err == nil {
		t.Fatalf("expected error for nil state")
	}
}

type exhausted struct{}

func (exhausted) Error() string   { return "gave up after 3 attempts" }
func (exhausted) Transient() bool { return true }

func TestFailureFromClassifiesTransient(t *testing.T) {
	if got := FailureFrom(exhausted{}); got.Kind != KindTransient {
		t.Fatalf("expected transient kind, got %v", got)
	}
	if got := FailureFrom(errors.New("disk full")); got.Kind != KindFatal {
		t.Fatalf("expected fatal kind, got %v", got)
	}
}
