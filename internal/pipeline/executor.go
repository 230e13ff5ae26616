package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bgricker/contractpipe/internal/logging"
)

// Outcome summarizes one pipeline run.
type Outcome struct {
	OK         bool
	Order      []string
	Results    map[string]Result
	FailedStep string
	Reached    string
	Duration   time.Duration
}

// ResultOf returns the recorded result of a step, or NotRun when the run
// aborted before reaching it.
func (o Outcome) ResultOf(name string) Result {
	if res, ok := o.Results[name]; ok {
		return res
	}
	return NotRun
}

// Executed returns the names of the steps that actually ran, in order.
func (o Outcome) Executed() []string {
	out := make([]string, 0, len(o.Results))
	for _, name := range o.Order {
		if _, ok := o.Results[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Executor runs a Graph strictly one step at a time in topological order and
// aborts on the first failure.
type Executor[S any] struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor logging to logger. A nil logger discards output.
func NewExecutor[S any](logger *slog.Logger) *Executor[S] {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor[S]{logger: logger, now: time.Now}
}

// Run executes g against state. Structural problems with the graph are
// returned as an error before any step runs; step failures are reported in
// the Outcome.
func (e *Executor[S]) Run(ctx context.Context, g *Graph[S], state *S) (Outcome, error) {
	if g == nil {
		return Outcome{}, fmt.Errorf("graph is required")
	}
	if state == nil {
		return Outcome{}, fmt.Errorf("state is required")
	}
	if err := g.Validate(); err != nil {
		return Outcome{}, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return Outcome{}, err
	}

	start := e.now()
	out := Outcome{Order: order, Results: make(map[string]Result, len(order))}
	for _, name := range order {
		step := g.steps[name]
		e.logger.Debug("step started", "step", name)

		stepStart := e.now()
		res := e.invoke(ctx, step, state)
		res.Duration = e.now().Sub(stepStart)

		out.Results[name] = res
		out.Reached = name

		if !res.Succeeded() {
			if res.Status != StatusFailure {
				res = Failuref("step returned status %q", res.Status)
				res.Duration = out.Results[name].Duration
				out.Results[name] = res
			}
			out.FailedStep = name
			out.Duration = e.now().Sub(start)
			e.logger.Error("step failed", "step", name, "kind", string(res.Kind), "detail", res.Detail)
			return out, nil
		}
		e.logger.Info("step completed", "step", name, "value", res.Value, "duration", res.Duration)
	}

	out.OK = true
	out.Duration = e.now().Sub(start)
	return out, nil
}

func (e *Executor[S]) invoke(ctx context.Context, step Step[S], state *S) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step panicked", "step", step.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res = Failure(KindPanic, fmt.Sprintf("panic: %v", r))
		}
	}()
	return step.op(ctx, state)
}
