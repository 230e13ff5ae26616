package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "contractpipe",
		Short:         "Generate, compile, analyze and store smart contracts",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("config", "", "config file (default ./.contractpipe.yml)")
	persistent.String("format", "pretty", "output format (pretty|json)")
	persistent.BoolP("verbose", "v", false, "stream compiler and analyzer output")
	persistent.String("log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newSchemaCmd())

	return cmd
}

func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("skip-analysis", false, "skip static analysis and report saving")
	flags.String("complexity", "", "pin the contract complexity (low|medium|high)")
	flags.StringArray("only-vuln", nil, "draw vulnerabilities only from matching names (repeatable)")
	flags.StringArray("skip-vuln", nil, "never draw matching vulnerabilities (repeatable)")
}
