package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bgricker/contractpipe/internal/config"
	"github.com/bgricker/contractpipe/internal/discovery"
	"github.com/bgricker/contractpipe/internal/filter"
	"github.com/bgricker/contractpipe/internal/output"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved contracts and their reports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().StringArray("match", nil, "include only matching contract names (repeatable)")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != config.BackendFS {
		return fmt.Errorf("list supports the %q storage backend only", config.BackendFS)
	}

	raw, err := cmd.Flags().GetStringArray("match")
	if err != nil {
		return fmt.Errorf("parse --match: %w", err)
	}
	patterns, err := filter.Compile(raw)
	if err != nil {
		return err
	}

	entries, err := discovery.Contracts(root, cfg.Storage.ContractsDir, cfg.Storage.ReportsDir)
	if err != nil && !errors.Is(err, discovery.ErrNoContracts) {
		return err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if filter.MatchAny(patterns, e.Name) {
			filtered = append(filtered, e)
		}
	}

	return renderList(cmd, cfg, filtered)
}

func renderList(cmd *cobra.Command, cfg config.Config, entries []discovery.Entry) error {
	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved contracts")
			return nil
		}
		return output.NewPretty(cmd.OutOrStdout()).RenderContracts(entries)
	case config.FormatJSON:
		return output.NewJSON(cmd.OutOrStdout()).Render(output.Report{Command: "list", Contracts: entries})
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}
}
