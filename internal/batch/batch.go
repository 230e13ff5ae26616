// Package batch repeats a pipeline run a fixed number of times, isolating
// failures between iterations.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bgricker/contractpipe/internal/logging"
	"github.com/bgricker/contractpipe/internal/pipeline"
	"github.com/bgricker/contractpipe/internal/report"
)

// Factory builds a fresh graph and state for iteration i (1-based).
type Factory[S any] func(ctx context.Context, i int) (*pipeline.Graph[S], *S, error)

// Recorder persists finished runs, e.g. to a ledger.
type Recorder interface {
	Record(ctx context.Context, batchID string, run report.Run) error
}

// Observer is told about progress.
type Observer interface {
	RunStarted(index, total int)
	RunFinished(run report.Run)
}

// Runner drives the iterations.
type Runner[S any] struct {
	Executor *pipeline.Executor[S]
	Recorder Recorder
	Observer Observer
	// Describe copies run details out of the final state.
	Describe func(state *S, run *report.Run)
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

func (r *Runner[S]) defaults() {
	if r.Logger == nil {
		r.Logger = logging.Discard()
	}
	if r.Executor == nil {
		r.Executor = pipeline.NewExecutor[S](r.Logger)
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.NewID == nil {
		r.NewID = func() string { return uuid.NewString() }
	}
}

// Run performs count iterations. A failed iteration never stops the batch;
// only a cancelled context does, in which case the partial batch is returned
// with the context error.
func (r *Runner[S]) Run(ctx context.Context, count int, factory Factory[S]) (report.Batch, error) {
	if count < 1 {
		return report.Batch{}, fmt.Errorf("contract count must be positive, got %d", count)
	}
	if factory == nil {
		return report.Batch{}, fmt.Errorf("factory is required")
	}
	r.defaults()

	start := r.Now()
	b := report.Batch{ID: r.NewID()}
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			r.finish(&b, start)
			return b, err
		}
		if r.Observer != nil {
			r.Observer.RunStarted(i, count)
		}
		r.Logger.Info("starting run", "run", i, "total", count)

		run := r.runOne(ctx, i, factory)
		run.DurationMS = run.Duration.Milliseconds()
		if run.Passed() {
			r.Logger.Info("run completed", "run", i, "total", count, "contract", run.Contract)
		} else {
			r.Logger.Error("run failed", "run", i, "total", count, "step", run.FailedStep, "err", run.Error)
		}
		if r.Recorder != nil {
			if err := r.Recorder.Record(ctx, b.ID, run); err != nil {
				r.Logger.Warn("recording run failed", "run", i, "err", err)
			}
		}
		if r.Observer != nil {
			r.Observer.RunFinished(run)
		}
		b.Add(run)
	}
	r.finish(&b, start)
	return b, nil
}

func (r *Runner[S]) finish(b *report.Batch, start time.Time) {
	b.Duration = r.Now().Sub(start)
	b.DurationMS = b.Duration.Milliseconds()
}

func (r *Runner[S]) runOne(ctx context.Context, i int, factory Factory[S]) report.Run {
	run := report.Run{ID: r.NewID(), Index: i, StartedAt: r.Now(), Status: report.StatusFailed}

	g, state, err := factory(ctx, i)
	if err != nil {
		run.Error = fmt.Sprintf("prepare run: %v", err)
		run.Duration = r.Now().Sub(run.StartedAt)
		return run
	}

	out, err := r.Executor.Run(ctx, g, state)
	if err != nil {
		run.Error = err.Error()
		run.Duration = r.Now().Sub(run.StartedAt)
		return run
	}

	run.Steps = Steps(g, out)
	if out.OK {
		run.Status = report.StatusPassed
	} else {
		run.FailedStep = out.FailedStep
		run.Error = out.ResultOf(out.FailedStep).Detail
	}
	if r.Describe != nil {
		r.Describe(state, &run)
	}
	run.Duration = r.Now().Sub(run.StartedAt)
	return run
}

// Steps converts a pipeline outcome into step records in execution order.
// Steps the run never reached are reported as skipped.
func Steps[S any](g *pipeline.Graph[S], out pipeline.Outcome) []report.StepResult {
	order := out.Order
	if len(order) == 0 && g != nil {
		order = g.Steps()
	}
	steps := make([]report.StepResult, 0, len(order))
	for _, name := range order {
		res := out.ResultOf(name)
		sr := report.StepResult{
			Name:       name,
			Kind:       string(res.Kind),
			Value:      res.Value,
			Detail:     res.Detail,
			Duration:   res.Duration,
			DurationMS: res.Duration.Milliseconds(),
		}
		switch res.Status {
		case pipeline.StatusSuccess:
			sr.Status = report.StatusPassed
		case pipeline.StatusFailure:
			sr.Status = report.StatusFailed
		default:
			sr.Status = report.StatusSkipped
		}
		steps = append(steps, sr)
	}
	return steps
}
