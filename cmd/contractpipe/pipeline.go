package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bgricker/contractpipe/internal/config"
	"github.com/bgricker/contractpipe/internal/contract"
	"github.com/bgricker/contractpipe/internal/filter"
	"github.com/bgricker/contractpipe/internal/generate"
	"github.com/bgricker/contractpipe/internal/ledger"
	"github.com/bgricker/contractpipe/internal/logging"
	"github.com/bgricker/contractpipe/internal/output"
	"github.com/bgricker/contractpipe/internal/pipeline"
	"github.com/bgricker/contractpipe/internal/prompt"
	"github.com/bgricker/contractpipe/internal/report"
	"github.com/bgricker/contractpipe/internal/runner"
	"github.com/bgricker/contractpipe/internal/storage"
	"github.com/spf13/cobra"
)

// session bundles the resolved configuration and logger of one command.
type session struct {
	cfg      config.Config
	root     string
	logger   *slog.Logger
	teardown func() error
}

func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	root, err := os.Getwd()
	if err != nil {
		return config.Config{}, "", fmt.Errorf("determine working directory: %w", err)
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, "", fmt.Errorf("parse --config: %w", err)
	}
	cfg, err := config.Load(root, path)
	if err != nil {
		return config.Config{}, "", err
	}

	flags, err := gatherFlags(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	config.ApplyFlags(&cfg, flags)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, root, nil
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logDir := cfg.Log.Dir
	if logDir != "" && !filepath.IsAbs(logDir) {
		logDir = filepath.Join(root, logDir)
	}
	logger, teardown, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    logDir,
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, root: root, logger: logger, teardown: teardown}, nil
}

func (s *session) close() {
	if err := s.teardown(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close log file: %v\n", err)
	}
}

func (s *session) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.root, p)
}

func (s *session) pipelineOptions() contract.Options {
	return contract.Options{SkipAnalysis: s.cfg.SkipAnalysis}
}

// promptSetup filters the vulnerability catalog and loads the prompt template.
func (s *session) promptSetup() (prompt.Selector, *prompt.Builder, error) {
	only, err := filter.Compile(s.cfg.Prompt.OnlyVuln)
	if err != nil {
		return prompt.Selector{}, nil, err
	}
	skip, err := filter.Compile(s.cfg.Prompt.SkipVuln)
	if err != nil {
		return prompt.Selector{}, nil, err
	}
	catalog := filter.Strings(prompt.Vulnerabilities, only, skip)
	if len(catalog) == 0 {
		return prompt.Selector{}, nil, fmt.Errorf("vulnerability filters: %w", prompt.ErrNoVulnerabilities)
	}

	builder, err := prompt.LoadBuilder(s.path(s.cfg.Prompt.Template))
	if err != nil {
		return prompt.Selector{}, nil, err
	}
	sel := prompt.Selector{
		Catalog:    catalog,
		Complexity: s.cfg.Prompt.Complexity,
		Min:        s.cfg.Prompt.Min,
		Max:        s.cfg.Prompt.Max,
	}
	if s.cfg.Prompt.Assessment != "" {
		data, err := os.ReadFile(s.path(s.cfg.Prompt.Assessment))
		if err != nil {
			return prompt.Selector{}, nil, fmt.Errorf("read assessment: %w", err)
		}
		params, err := prompt.ParseAssessment(string(data))
		if err != nil {
			return prompt.Selector{}, nil, err
		}
		if err := params.Check(catalog); err != nil {
			return prompt.Selector{}, nil, fmt.Errorf("assessment %s: %w", s.cfg.Prompt.Assessment, err)
		}
		sel.Fixed = &params
	}
	return sel, builder, nil
}

func (s *session) store() (*storage.Store, error) {
	switch s.cfg.Storage.Backend {
	case config.BackendMinio:
		backend, err := storage.NewMinioBackend(s.cfg.Storage.MinioSettings())
		if err != nil {
			return nil, err
		}
		return storage.New(backend, nil), nil
	default:
		backend := storage.NewFSBackend(s.path(s.cfg.Storage.ContractsDir), s.path(s.cfg.Storage.ReportsDir))
		return storage.New(backend, nil), nil
	}
}

// deps assembles the step collaborators. apiKey may be empty when the
// pipeline is only planned.
func (s *session) deps(cmd *cobra.Command, apiKey string) (contract.Deps, error) {
	store, err := s.store()
	if err != nil {
		return contract.Deps{}, err
	}
	gen := s.cfg.Generator
	invoker := runner.New(runner.Options{
		Stdout:  cmd.ErrOrStderr(),
		Stderr:  cmd.ErrOrStderr(),
		Verbose: s.cfg.Verbose,
	})
	return contract.Deps{
		Generator: &generate.Client{
			Endpoint:   gen.Endpoint,
			APIKey:     apiKey,
			Params:     gen.Params,
			HTTPClient: &http.Client{Timeout: gen.Timeout},
		},
		Invoker:  invoker,
		Store:    store,
		Compiler: toolCommand(s.cfg.Compiler),
		Analyzer: toolCommand(s.cfg.Analyzer),
		Retry:    s.cfg.Retry.Policy(generate.Classifier()),
		Logger:   s.logger,
	}, nil
}

// recorder opens the run ledger when enabled. The returned closer is never nil.
func (s *session) recorder(ctx context.Context) (*ledger.Ledger, func() error, error) {
	noop := func() error { return nil }
	if !s.cfg.Ledger.Enabled {
		return nil, noop, nil
	}
	db, err := ledger.Open(ctx, s.cfg.Ledger.Config)
	if err != nil {
		return nil, noop, fmt.Errorf("open ledger: %w", err)
	}
	l := ledger.New(db)
	if err := l.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, noop, err
	}
	return l, db.Close, nil
}

func toolCommand(t config.ToolConfig) runner.Command {
	return runner.Command{
		Name:   strings.TrimSpace(t.Command),
		Args:   append([]string{}, t.Args...),
		Env:    t.Env,
		Suffix: storage.ContractExt,
	}
}

// buildPlan describes the configured graph and a sample of the prompt.
func buildPlan(g *pipeline.Graph[contract.State], state *contract.State) (output.Plan, error) {
	if err := g.Validate(); err != nil {
		return output.Plan{}, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return output.Plan{}, err
	}
	plan := output.Plan{Steps: make([]output.PlanStep, 0, len(order))}
	for _, name := range order {
		plan.Steps = append(plan.Steps, output.PlanStep{Name: name, DependsOn: g.Predecessors(name)})
	}
	if state != nil {
		plan.Complexity = state.Params.Complexity
		plan.Vulnerabilities = state.Params.Vulnerabilities
		plan.Prompt = state.Prompt
	}
	return plan, nil
}

func describeRun(state *contract.State, run *report.Run) {
	run.Complexity = state.Params.Complexity
	run.Vulnerabilities = append([]string{}, state.Params.Vulnerabilities...)
	run.Contract = state.Contract.Location
	run.Report = state.Report.Location
}
