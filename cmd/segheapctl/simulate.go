package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/heap"
	"github.com/thek-os/segheap/klock"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type simulateOptions struct {
	schemaFlags
	operations int
	maxSize    int
	freeRatio  float64
	seed       uint64
	track      bool
	poison     bool
}

var simulateFlags simulateOptions

func init() {
	cmd := newSimulateCmd()
	simulateFlags.register(cmd)
	cmd.Flags().IntVar(&simulateFlags.operations, "ops", 10000, "Number of heap operations to run")
	cmd.Flags().IntVar(&simulateFlags.maxSize, "max-size", 4096, "Largest allocation size requested")
	cmd.Flags().Float64Var(&simulateFlags.freeRatio, "free-ratio", 0.45, "Fraction of operations that free a live allocation")
	cmd.Flags().Uint64Var(&simulateFlags.seed, "seed", 1, "Seed for the workload generator")
	cmd.Flags().BoolVar(&simulateFlags.track, "track", true, "Track live allocations and requested bytes")
	cmd.Flags().BoolVar(&simulateFlags.poison, "poison", false, "Poison freed segments")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a randomized allocation workload",
		Long: `The simulate command boots an allocator over a freshly mapped region and
runs a seeded mix of allocations, reallocations and frees against it. It then
validates the heap and reports utilization per pool, including how many
requests could not be served.

Example:
  segheapctl simulate --schema big --size 64MiB --ops 100000
  segheapctl simulate --schema-file pools.json --max-size 512 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.OutOrStdout(), &simulateFlags)
		},
	}
	return cmd
}

type simulation struct {
	Allocations       int
	Reallocations     int
	Frees             int
	FailedAllocations int
	FailedReallocs    int
	LastFailedSize    int
}

type liveAllocation struct {
	addr arena.Addr
	size int
}

func runSimulate(out io.Writer, flags *simulateOptions) error {
	if flags.maxSize < 1 {
		return fmt.Errorf("--max-size must be positive, got %d", flags.maxSize)
	}

	schema, err := flags.schema()
	if err != nil {
		return err
	}

	size, err := flags.regionSize()
	if err != nil {
		return err
	}

	region, err := arena.Map(arena.Descriptor{Base: arena.Addr(flags.base), Size: size})
	if err != nil {
		return err
	}
	defer region.Close()

	var createFlags heap.CreateFlags
	if flags.track {
		createFlags |= heap.AllocatorCreateTrackAllocations
	}
	if flags.poison {
		createFlags |= heap.AllocatorCreatePoisonFreed
	}

	allocator, err := heap.New(newLogger(os.Stderr), region, heap.CreateOptions{
		Flags:  createFlags,
		Schema: schema,
		Waiter: klock.YieldWaiter{SpinLimit: 64},
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(flags.seed, flags.seed))
	result := simulate(allocator, rng, flags)

	if err := allocator.Validate(); err != nil {
		return fmt.Errorf("heap failed validation after the workload: %w", err)
	}

	if jsonOut {
		w := jwriter.NewWriter()
		obj := w.Object()
		obj.Name("Seed").Int(int(flags.seed))
		obj.Name("Allocations").Int(result.Allocations)
		obj.Name("Reallocations").Int(result.Reallocations)
		obj.Name("Frees").Int(result.Frees)
		obj.Name("FailedAllocations").Int(result.FailedAllocations)
		obj.Name("FailedReallocations").Int(result.FailedReallocs)
		allocator.PrintDetailedMap(obj.Name("Allocator"))
		obj.End()
		if err := w.Error(); err != nil {
			return err
		}

		_, err = fmt.Fprintln(out, string(w.Bytes()))
		return err
	}

	stats := allocator.DetailedStatistics()
	printer := message.NewPrinter(language.English)
	printer.Fprintf(out, "Operations: %d allocations, %d reallocations, %d frees\n",
		result.Allocations, result.Reallocations, result.Frees)
	printer.Fprintf(out, "Failures: %d allocations, %d reallocations\n", result.FailedAllocations, result.FailedReallocs)
	printer.Fprintf(out, "Segments in use: %d of %d (%.1f%% of payload bytes)\n",
		stats.UsedSegments, stats.SegmentCount, 100*stats.Utilization())
	if flags.track {
		printer.Fprintf(out, "Requested bytes: %d of %d segment bytes in use\n", stats.RequestedBytes, stats.UsedBytes)
	}

	if result.FailedAllocations > 0 {
		report := heap.ExhaustionReport{
			Size:  result.LastFailedSize,
			Align: arena.Alignment,
			Pools: allocator.PoolStatistics(),
		}
		fmt.Fprintf(out, "\nLast failed request:\n%s", report)
	}

	return nil
}

func simulate(allocator *heap.Allocator, rng *rand.Rand, flags *simulateOptions) simulation {
	var result simulation
	var live []liveAllocation

	for operation := 0; operation < flags.operations; operation++ {
		roll := rng.Float64()

		switch {
		case len(live) > 0 && roll < flags.freeRatio:
			index := rng.IntN(len(live))
			allocator.Deallocate(live[index].addr, live[index].size, arena.Alignment)
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
			result.Frees++

		case len(live) > 0 && roll < flags.freeRatio+0.1:
			index := rng.IntN(len(live))
			newSize := rng.IntN(flags.maxSize) + 1
			addr := allocator.Reallocate(live[index].addr, live[index].size, arena.Alignment, newSize)
			if addr == arena.NullAddr {
				result.FailedReallocs++
				continue
			}
			live[index] = liveAllocation{addr: addr, size: newSize}
			result.Reallocations++

		default:
			size := rng.IntN(flags.maxSize) + 1
			addr := allocator.Allocate(size, arena.Alignment)
			if addr == arena.NullAddr {
				result.FailedAllocations++
				result.LastFailedSize = size
				continue
			}
			live = append(live, liveAllocation{addr: addr, size: size})
			result.Allocations++
		}
	}

	return result
}
