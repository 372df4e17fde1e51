package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/pool"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var layoutFlags schemaFlags

func init() {
	cmd := newLayoutCmd()
	layoutFlags.register(cmd)
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show how a schema carves a region into pools",
		Long: `The layout command carves a region of the given size with a schema and
prints every pool's segment size, segment count, and the bytes spent on its
free-address table.

Example:
  segheapctl layout --schema small --size 10MiB
  segheapctl layout --schema-file pools.json --size 512KiB --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.OutOrStdout(), &layoutFlags)
		},
	}
	return cmd
}

func runLayout(out io.Writer, flags *schemaFlags) error {
	schema, err := flags.schema()
	if err != nil {
		return err
	}

	size, err := flags.regionSize()
	if err != nil {
		return err
	}

	region, err := arena.Allocate(arena.Descriptor{Base: arena.Addr(flags.base), Size: size})
	if err != nil {
		return err
	}
	defer region.Close()

	printVerbose(out, "Carving %s at %#x into %d pools\n", humanize.IBytes(uint64(size)), flags.base, len(schema))

	set, err := pool.Carve(region, schema)
	if err != nil {
		return err
	}

	if jsonOut {
		w := jwriter.NewWriter()
		obj := w.Object()
		set.PrintDetailedMap(obj)
		obj.End()
		if err := w.Error(); err != nil {
			return err
		}

		_, err = fmt.Fprintln(out, string(w.Bytes()))
		return err
	}

	printer := message.NewPrinter(language.English)
	printer.Fprintf(out, "Region: %s (%d bytes), header %d bytes, carved %d bytes\n\n",
		humanize.IBytes(uint64(region.Size())), region.Size(), pool.SetHeaderSize, set.CarvedSize())
	printer.Fprintf(out, "%-5s %14s %10s %12s %12s %10s\n", "Pool", "Segment", "Segments", "Block", "Table", "Align")

	for index := 0; index < set.Len(); index++ {
		p := set.Pool(index)
		tableBytes := p.BlockSize() - p.NumSegments()*p.SegmentSize()
		printer.Fprintf(out, "%-5d %14d %10d %12d %12d %10d\n",
			p.Index(), p.SegmentSize(), p.NumSegments(), p.BlockSize(), tableBytes, p.Alignment())
	}

	return nil
}
