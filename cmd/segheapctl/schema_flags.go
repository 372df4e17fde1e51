package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/thek-os/segheap/pool"
)

var presets = map[string]func() pool.Schema{
	"default": func() pool.Schema { return pool.DefaultSchema },
	"small":   pool.SmallSchema,
	"big":     pool.BigSchema,
}

// schemaFlags are shared by every command that carves a region
type schemaFlags struct {
	preset string
	file   string
	size   string
	base   uint64
}

func (f *schemaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preset, "schema", "default", "Schema preset: default, small or big")
	cmd.Flags().StringVar(&f.file, "schema-file", "", "Read the schema from a JSON file instead of a preset")
	cmd.Flags().StringVar(&f.size, "size", "10MiB", "Region size, e.g. 65536, 512KiB or 10MiB")
	cmd.Flags().Uint64Var(&f.base, "base", 0x100000, "Logical base address of the region")
}

func (f *schemaFlags) schema() (pool.Schema, error) {
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		return pool.ParseSchema(data)
	}

	preset, ok := presets[strings.ToLower(f.preset)]
	if !ok {
		return nil, fmt.Errorf("unknown schema preset %q", f.preset)
	}
	return preset(), nil
}

func (f *schemaFlags) regionSize() (int, error) {
	size, err := humanize.ParseBytes(f.size)
	if err != nil {
		return 0, fmt.Errorf("invalid region size %q: %w", f.size, err)
	}
	return int(size), nil
}
