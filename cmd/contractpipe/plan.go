package main

import (
	"fmt"
	"strings"

	"github.com/bgricker/contractpipe/internal/config"
	"github.com/bgricker/contractpipe/internal/contract"
	"github.com/bgricker/contractpipe/internal/output"
	"github.com/bgricker/contractpipe/internal/prompt"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the pipeline steps in execution order",
		Args:  cobra.NoArgs,
		RunE:  runPlan,
	}
	addPipelineFlags(cmd)
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	sel, builder, err := s.promptSetup()
	if err != nil {
		return err
	}
	return renderPlan(cmd, s, sel, builder)
}

func renderPlan(cmd *cobra.Command, s *session, sel prompt.Selector, builder *prompt.Builder) error {
	deps, err := s.deps(cmd, "")
	if err != nil {
		return err
	}
	g, err := contract.Build(deps, s.pipelineOptions())
	if err != nil {
		return err
	}
	state, err := contract.NewState(sel, builder)
	if err != nil {
		return err
	}
	plan, err := buildPlan(g, state)
	if err != nil {
		return err
	}

	switch strings.ToLower(s.cfg.Format) {
	case config.FormatPretty:
		return output.NewPretty(cmd.OutOrStdout()).RenderPlan(plan)
	case config.FormatJSON:
		return output.NewJSON(cmd.OutOrStdout()).Render(output.Report{Command: "plan", Plan: &plan})
	default:
		return fmt.Errorf("unsupported format %q", s.cfg.Format)
	}
}
