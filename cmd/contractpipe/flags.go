package main

import (
	"fmt"

	"github.com/bgricker/contractpipe/internal/config"
	"github.com/spf13/cobra"
)

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues

	if flags.Changed("contracts") {
		v, err := flags.GetInt("contracts")
		if err != nil {
			return values, fmt.Errorf("parse --contracts: %w", err)
		}
		values.Contracts = config.IntFlag{Value: v, Set: true}
	}

	if flags.Changed("skip-analysis") {
		v, err := flags.GetBool("skip-analysis")
		if err != nil {
			return values, fmt.Errorf("parse --skip-analysis: %w", err)
		}
		values.SkipAnalysis = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return values, fmt.Errorf("parse --dry-run: %w", err)
		}
		values.DryRun = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Changed("complexity") {
		v, err := flags.GetString("complexity")
		if err != nil {
			return values, fmt.Errorf("parse --complexity: %w", err)
		}
		values.Complexity = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("only-vuln") {
		v, err := flags.GetStringArray("only-vuln")
		if err != nil {
			return values, fmt.Errorf("parse --only-vuln: %w", err)
		}
		values.OnlyVuln = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("skip-vuln") {
		v, err := flags.GetStringArray("skip-vuln")
		if err != nil {
			return values, fmt.Errorf("parse --skip-vuln: %w", err)
		}
		values.SkipVuln = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("format") {
		v, err := flags.GetString("format")
		if err != nil {
			return values, fmt.Errorf("parse --format: %w", err)
		}
		values.Format = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("verbose") {
		v, err := flags.GetBool("verbose")
		if err != nil {
			return values, fmt.Errorf("parse --verbose: %w", err)
		}
		values.Verbose = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Changed("log-level") {
		v, err := flags.GetString("log-level")
		if err != nil {
			return values, fmt.Errorf("parse --log-level: %w", err)
		}
		values.LogLevel = config.StringFlag{Value: v, Set: true}
	}

	return values, nil
}
