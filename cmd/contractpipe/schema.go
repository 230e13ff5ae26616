package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bgricker/contractpipe/internal/output"
	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of --format json output",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	}
	cmd.Flags().String("out", "", "write the schema to a file instead of stdout")
	return cmd
}

func runSchema(cmd *cobra.Command, args []string) error {
	data, err := output.Schema()
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return fmt.Errorf("parse --out: %w", err)
	}
	if outPath == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return writeSchema(outPath, data)
}

func writeSchema(outPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
