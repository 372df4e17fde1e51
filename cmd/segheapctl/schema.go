package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/thek-os/segheap/pool"
)

func init() {
	cmd := newSchemaCmd()
	cmd.AddCommand(newSchemaValidateCmd())
	rootCmd.AddCommand(cmd)
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [preset]",
		Short: "Print a schema preset as JSON",
		Long: `The schema command prints a built-in schema preset in the JSON format
accepted by --schema-file. Without an argument it lists the presets.

Example:
  segheapctl schema small > pools.json
  segheapctl schema validate pools.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.OutOrStdout(), args)
		},
	}
	return cmd
}

func newSchemaValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a schema file is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(cmd.OutOrStdout(), args)
		},
	}
}

func runSchema(out io.Writer, args []string) error {
	if len(args) == 0 {
		names := make([]string, 0, len(presets))
		for name := range presets {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	preset, ok := presets[args[0]]
	if !ok {
		return fmt.Errorf("unknown schema preset %q", args[0])
	}

	w := jwriter.NewWriter()
	preset().WriteJSON(&w)
	if err := w.Error(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(out, string(w.Bytes()))
	return err
}

func runSchemaValidate(out io.Writer, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	schema, err := pool.ParseSchema(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d pools, OK\n", args[0], len(schema))
	return nil
}
