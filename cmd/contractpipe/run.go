package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bgricker/contractpipe/internal/batch"
	"github.com/bgricker/contractpipe/internal/config"
	"github.com/bgricker/contractpipe/internal/contract"
	"github.com/bgricker/contractpipe/internal/output"
	"github.com/bgricker/contractpipe/internal/pipeline"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, compile, analyze and save contracts",
		Args:  cobra.NoArgs,
		RunE:  runExecute,
	}
	cmd.Flags().IntP("contracts", "c", 1, "number of contracts to generate")
	cmd.Flags().Bool("dry-run", false, "print the pipeline plan without calling any tool")
	addPipelineFlags(cmd)
	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cfg := s.cfg

	sel, builder, err := s.promptSetup()
	if err != nil {
		return err
	}

	if cfg.DryRun {
		return renderPlan(cmd, s, sel, builder)
	}

	apiKey, err := cfg.APIKey()
	if err != nil {
		return err
	}
	deps, err := s.deps(cmd, apiKey)
	if err != nil {
		return err
	}
	opts := s.pipelineOptions()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	recorder, closeLedger, err := s.recorder(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLedger(); err != nil {
			s.logger.Warn("close ledger", "err", err)
		}
	}()

	r := &batch.Runner[contract.State]{
		Executor: pipeline.NewExecutor[contract.State](s.logger),
		Describe: describeRun,
		Logger:   s.logger,
	}
	if recorder != nil {
		r.Recorder = recorder
	}
	var stream *output.StreamingPrettyRenderer
	if strings.ToLower(cfg.Format) == config.FormatPretty {
		stream = output.NewStreamingPretty(cmd.OutOrStdout())
		r.Observer = stream
	}

	result, runErr := r.Run(ctx, cfg.Contracts, func(ctx context.Context, i int) (*pipeline.Graph[contract.State], *contract.State, error) {
		state, err := contract.NewState(sel, builder)
		if err != nil {
			return nil, nil, err
		}
		g, err := contract.Build(deps, opts)
		if err != nil {
			return nil, nil, err
		}
		return g, state, nil
	})

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		if err := stream.RenderSummary(result); err != nil {
			return err
		}
	case config.FormatJSON:
		renderer := output.NewJSON(cmd.OutOrStdout())
		if err := renderer.Render(output.Report{Command: "run", Batch: &result}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	if runErr != nil {
		return runErr
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("one or more contracts failed")
	}
	return nil
}
