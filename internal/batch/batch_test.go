package batch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/bgricker/contractpipe/internal/pipeline"
	"github.com/bgricker/contractpipe/internal/report"
)

type counterState struct {
	index int
	wrote string
}

func chain(fail bool) *pipeline.Graph[counterState] {
	g := pipeline.NewGraph[counterState]()
	_ = g.AddStep("first", func(ctx context.Context, s *counterState) pipeline.Result {
		if fail {
			return pipeline.Failuref("iteration %d failed", s.index)
		}
		s.wrote = fmt.Sprintf("run-%d", s.index)
		return pipeline.Success(s.wrote)
	})
	_ = g.AddStep("second", func(ctx context.Context, s *counterState) pipeline.Result {
		return pipeline.Success("ok")
	}, "first")
	return g
}

type recorder struct {
	runs    []report.Run
	batchID string
	err     error
}

func (r *recorder) Record(ctx context.Context, batchID string, run report.Run) error {
	r.batchID = batchID
	r.runs = append(r.runs, run)
	return r.err
}

type observer struct {
	started  []int
	finished []string
}

func (o *observer) RunStarted(index, total int) { o.started = append(o.started, index) }
func (o *observer) RunFinished(run report.Run)  { o.finished = append(o.finished, run.Status) }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	rec := &recorder{}
	obs := &observer{}
	r := &Runner[counterState]{
		Recorder: rec,
		Observer: obs,
		NewID:    sequentialIDs(),
		Describe: func(s *counterState, run *report.Run) { run.Contract = s.wrote },
	}
	b, err := r.Run(context.Background(), 3, func(ctx context.Context, i int) (*pipeline.Graph[counterState], *counterState, error) {
		return chain(i == 2), &counterState{index: i}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{report.StatusPassed, report.StatusFailed, report.StatusPassed}
	if !reflect.DeepEqual(b.Statuses(), want) {
		t.Fatalf("statuses = %v, want %v", b.Statuses(), want)
	}
	if b.Total != 3 || b.Succeeded != 2 || b.Failed != 1 || b.ExitCode != 1 {
		t.Fatalf("unexpected counters %+v", b)
	}

	failed := b.Runs[1]
	if failed.FailedStep != "first" || failed.Error != "iteration 2 failed" {
		t.Fatalf("unexpected failed run %+v", failed)
	}
	if failed.Steps[1].Status != report.StatusSkipped {
		t.Fatalf("step after failure must be skipped, got %+v", failed.Steps[1])
	}
	if b.Runs[2].Contract != "run-3" {
		t.Fatalf("third run must use fresh state, got %q", b.Runs[2].Contract)
	}

	if len(rec.runs) != 3 || rec.batchID != b.ID {
		t.Fatalf("recorder saw %d runs for batch %q", len(rec.runs), rec.batchID)
	}
	if !reflect.DeepEqual(obs.started, []int{1, 2, 3}) || !reflect.DeepEqual(obs.finished, want) {
		t.Fatalf("observer saw %v / %v", obs.started, obs.finished)
	}

	ids := map[string]bool{b.ID: true}
	for _, run := range b.Runs {
		if ids[run.ID] {
			t.Fatalf("duplicate id %q", run.ID)
		}
		ids[run.ID] = true
	}
}

func TestFactoryErrorCountsAsFailure(t *testing.T) {
	r := &Runner[counterState]{}
	b, err := r.Run(context.Background(), 2, func(ctx context.Context, i int) (*pipeline.Graph[counterState], *counterState, error) {
		if i == 1 {
			return nil, nil, errors.New("no vulnerabilities")
		}
		return chain(false), &counterState{index: i}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(b.Statuses(), []string{report.StatusFailed, report.StatusPassed}) {
		t.Fatalf("statuses = %v", b.Statuses())
	}
	if b.Runs[0].Error == "" {
		t.Fatalf("factory error must be reported")
	}
}

func TestStructuralErrorCountsAsFailure(t *testing.T) {
	r := &Runner[counterState]{}
	b, err := r.Run(context.Background(), 1, func(ctx context.Context, i int) (*pipeline.Graph[counterState], *counterState, error) {
		return pipeline.NewGraph[counterState](), &counterState{}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if b.Failed != 1 || len(b.Runs[0].Steps) != 0 {
		t.Fatalf("expected structural failure without steps, got %+v", b.Runs[0])
	}
}

func TestRecorderErrorDoesNotFailRun(t *testing.T) {
	r := &Runner[counterState]{Recorder: &recorder{err: errors.New("db down")}}
	b, err := r.Run(context.Background(), 1, func(ctx context.Context, i int) (*pipeline.Graph[counterState], *counterState, error) {
		return chain(false), &counterState{index: i}, nil
	})
	if err != nil || b.Succeeded != 1 {
		t.Fatalf("expected success despite recorder error: %+v, %v", b, err)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	r := &Runner[counterState]{}
	if _, err := r.Run(context.Background(), 0, nil); err == nil {
		t.Fatalf("expected error for zero count")
	}
	if _, err := r.Run(context.Background(), 1, nil); err == nil {
		t.Fatalf("expected error for nil factory")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := &Runner[counterState]{}
	b, err := r.Run(ctx, 3, func(ctx context.Context, i int) (*pipeline.Graph[counterState], *counterState, error) {
		calls++
		cancel()
		return chain(false), &counterState{index: i}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 || b.Total != 1 {
		t.Fatalf("expected one run before cancellation, calls=%d total=%d", calls, b.Total)
	}
}
