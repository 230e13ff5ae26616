package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bgricker/contractpipe/internal/config"
	"github.com/bgricker/contractpipe/internal/output"
	"github.com/bgricker/contractpipe/internal/version"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the compiler, analyzer, credential and ledger",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	cmd.Flags().String("require-solc", "", "required solc major.minor version, e.g. 0.8")
	cmd.Flags().Bool("skip-analysis", false, "do not check the analyzer")
	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cfg := s.cfg

	required, err := cmd.Flags().GetString("require-solc")
	if err != nil {
		return fmt.Errorf("parse --require-solc: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []output.Check{toolCheck(ctx, version.Solc(cfg.Compiler.Command), required)}
	if !cfg.SkipAnalysis {
		checks = append(checks, toolCheck(ctx, version.Slither(cfg.Analyzer.Command), ""))
	}

	credential := output.Check{Name: "credential " + cfg.Generator.APIKeyEnv, OK: true}
	if _, err := cfg.APIKey(); err != nil {
		credential.OK = false
		credential.Detail = err.Error()
	}
	checks = append(checks, credential)

	if cfg.Ledger.Enabled {
		ledgerCheck := output.Check{Name: "ledger", OK: true}
		_, closeLedger, err := s.recorder(ctx)
		if err != nil {
			ledgerCheck.OK = false
			ledgerCheck.Detail = err.Error()
		} else {
			_ = closeLedger()
		}
		checks = append(checks, ledgerCheck)
	}

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		if err := output.NewPretty(cmd.OutOrStdout()).RenderChecks(checks); err != nil {
			return err
		}
	case config.FormatJSON:
		if err := output.NewJSON(cmd.OutOrStdout()).Render(output.Report{Command: "doctor", Checks: checks}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	for _, c := range checks {
		if !c.OK {
			return fmt.Errorf("one or more checks failed")
		}
	}
	return nil
}

func toolCheck(ctx context.Context, probe version.Probe, required string) output.Check {
	check := output.Check{Name: probe.Name}
	info, err := version.Detect(ctx, probe)
	switch {
	case err != nil && version.Missing(err):
		check.Detail = fmt.Sprintf("%s executable not found", probe.Command)
	case err != nil:
		check.Detail = fmt.Sprintf("unable to detect %s version: %v", probe.Name, err)
	case !version.CompareMajorMinor(required, info.Version):
		check.Version = info.Version
		check.Detail = fmt.Sprintf("version mismatch: required %s but found %s", required, info.Version)
	default:
		check.OK = true
		check.Version = info.Version
	}
	return check
}
