// Package contract wires the generate, compile, analyze and save steps into a
// pipeline graph over a typed State.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bgricker/contractpipe/internal/generate"
	"github.com/bgricker/contractpipe/internal/logging"
	"github.com/bgricker/contractpipe/internal/pipeline"
	"github.com/bgricker/contractpipe/internal/prompt"
	"github.com/bgricker/contractpipe/internal/retry"
	"github.com/bgricker/contractpipe/internal/runner"
	"github.com/bgricker/contractpipe/internal/storage"
)

// Step names.
const (
	StepGenerate     = "generate"
	StepCompile      = "compile"
	StepAnalyze      = "analyze"
	StepSaveContract = "save-contract"
	StepSaveReport   = "save-report"
)

// State is threaded through one pipeline run. Each step fills its own field.
type State struct {
	Params           prompt.Params
	Prompt           string
	ContractCode     string
	CompiledArtifact string
	AnalysisReport   string
	Contract         storage.Artifact
	Report           storage.Artifact
}

// Generator produces contract source for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Invoker runs an external tool against a transient input file.
type Invoker interface {
	Invoke(ctx context.Context, cmd runner.Command, payload []byte) (runner.Outcome, error)
}

// Store persists contracts and reports.
type Store interface {
	SaveContract(ctx context.Context, source string) (storage.Artifact, error)
	SaveReport(ctx context.Context, contract storage.Artifact, report string) (storage.Artifact, error)
}

// Deps are the collaborators used by the step operations.
type Deps struct {
	Generator Generator
	Invoker   Invoker
	Store     Store
	Compiler  runner.Command
	Analyzer  runner.Command
	Retry     retry.Policy
	Logger    *slog.Logger
}

// DefaultCompiler compiles to bytecode with solc.
func DefaultCompiler() runner.Command {
	return runner.Command{Name: "solc", Args: []string{"--bin"}, Suffix: storage.ContractExt}
}

// DefaultAnalyzer runs slither on the contract file.
func DefaultAnalyzer() runner.Command {
	return runner.Command{Name: "slither", Suffix: storage.ContractExt}
}

// Options shape the graph.
type Options struct {
	// SkipAnalysis drops the analyze and save-report steps.
	SkipAnalysis bool
}

// Steps returns the step names Build registers, in insertion order.
func Steps(opts Options) []string {
	if opts.SkipAnalysis {
		return []string{StepGenerate, StepCompile, StepSaveContract}
	}
	return []string{StepGenerate, StepCompile, StepAnalyze, StepSaveContract, StepSaveReport}
}

// Build assembles the contract pipeline. Without analysis the graph is
// generate -> compile -> save-contract; otherwise analyze follows compile and
// save-report waits for both analyze and save-contract.
func Build(d Deps, opts Options) (*pipeline.Graph[State], error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Retry.Classifier == nil {
		d.Retry.Classifier = generate.Classifier()
	}

	g := pipeline.NewGraph[State]()
	add := func(name string, op pipeline.Operation[State], deps ...string) error {
		if err := g.AddStep(name, op, deps...); err != nil {
			return fmt.Errorf("build contract pipeline: %w", err)
		}
		return nil
	}

	if err := add(StepGenerate, d.generate); err != nil {
		return nil, err
	}
	if err := add(StepCompile, d.compile, StepGenerate); err != nil {
		return nil, err
	}
	if opts.SkipAnalysis {
		if err := add(StepSaveContract, d.saveContract, StepCompile); err != nil {
			return nil, err
		}
		return g, nil
	}
	if err := add(StepAnalyze, d.analyze, StepCompile); err != nil {
		return nil, err
	}
	if err := add(StepSaveContract, d.saveContract, StepAnalyze); err != nil {
		return nil, err
	}
	if err := add(StepSaveReport, d.saveReport, StepAnalyze, StepSaveContract); err != nil {
		return nil, err
	}
	return g, nil
}

func (d Deps) validate() error {
	switch {
	case d.Generator == nil:
		return fmt.Errorf("contract pipeline: generator is required")
	case d.Invoker == nil:
		return fmt.Errorf("contract pipeline: invoker is required")
	case d.Store == nil:
		return fmt.Errorf("contract pipeline: store is required")
	case strings.TrimSpace(d.Compiler.Name) == "":
		return fmt.Errorf("contract pipeline: compiler command is required")
	case strings.TrimSpace(d.Analyzer.Name) == "":
		return fmt.Errorf("contract pipeline: analyzer command is required")
	}
	return d.Retry.Validate()
}

func (d Deps) generate(ctx context.Context, s *State) pipeline.Result {
	if strings.TrimSpace(s.Prompt) == "" {
		return pipeline.Failure(pipeline.KindFatal, "prompt is empty")
	}
	text, err := retry.Do(ctx, d.Retry, func(ctx context.Context, attempt int) (string, error) {
		d.Logger.Debug("requesting contract", "attempt", attempt, "complexity", s.Params.Complexity)
		text, err := d.Generator.Generate(ctx, s.Prompt)
		if err != nil {
			d.Logger.Warn("generation attempt failed", "attempt", attempt, "err", err)
		}
		return text, err
	}, generate.CheckText)
	if err != nil {
		return pipeline.FailureFrom(err)
	}
	s.ContractCode = text
	return pipeline.Success(fmt.Sprintf("%d bytes", len(text)))
}

func (d Deps) compile(ctx context.Context, s *State) pipeline.Result {
	out, err := d.Invoker.Invoke(ctx, d.Compiler, []byte(s.ContractCode))
	if err != nil {
		return pipeline.FailureFrom(err)
	}
	if !out.Success {
		return pipeline.Failure(pipeline.KindFatal, toolFailure(d.Compiler.Name, out))
	}
	s.CompiledArtifact = out.Stdout
	return pipeline.Success("compiled")
}

func (d Deps) analyze(ctx context.Context, s *State) pipeline.Result {
	out, err := d.Invoker.Invoke(ctx, d.Analyzer, []byte(s.ContractCode))
	if err != nil {
		return pipeline.FailureFrom(err)
	}
	if !out.Success {
		return pipeline.Failure(pipeline.KindFatal, toolFailure(d.Analyzer.Name, out))
	}
	report := out.Stdout
	if strings.TrimSpace(report) == "" {
		report = out.Stderr
	}
	if strings.TrimSpace(report) == "" {
		return pipeline.Failuref("%s produced no report", d.Analyzer.Name)
	}
	s.AnalysisReport = report
	return pipeline.Success(fmt.Sprintf("%d bytes", len(report)))
}

func (d Deps) saveContract(ctx context.Context, s *State) pipeline.Result {
	a, err := d.Store.SaveContract(ctx, s.ContractCode)
	if err != nil {
		return pipeline.FailureFrom(err)
	}
	s.Contract = a
	return pipeline.Success(a.Location)
}

func (d Deps) saveReport(ctx context.Context, s *State) pipeline.Result {
	a, err := d.Store.SaveReport(ctx, s.Contract, s.AnalysisReport)
	if err != nil {
		return pipeline.FailureFrom(err)
	}
	s.Report = a
	return pipeline.Success(a.Location)
}

func toolFailure(name string, out runner.Outcome) string {
	msg := strings.TrimSpace(out.Error)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", out.ExitCode)
	}
	return fmt.Sprintf("%s failed: %s", name, msg)
}

// NewState draws fresh parameters and renders the prompt for one run.
func NewState(sel prompt.Selector, b *prompt.Builder) (*State, error) {
	params, err := sel.Pick()
	if err != nil {
		return nil, err
	}
	text, err := b.Build(params)
	if err != nil {
		return nil, err
	}
	return &State{Params: params, Prompt: text}, nil
}
