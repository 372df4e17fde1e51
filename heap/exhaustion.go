package heap

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/memutils"
	"github.com/thek-os/segheap/pool"
	"golang.org/x/exp/slog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ExhaustionReport describes the request that could not be served and the state of every pool
// at the time
type ExhaustionReport struct {
	Size  int
	Align uint
	Pools []pool.Statistics
}

func (r ExhaustionReport) String() string {
	printer := message.NewPrinter(language.English)

	var sb strings.Builder
	printer.Fprintf(&sb, "no pool can serve %d bytes at alignment %d\n", r.Size, r.Align)

	for _, stats := range r.Pools {
		var utilization float64
		if stats.NumSegments > 0 {
			utilization = 100 * float64(stats.UsedSegments) / float64(stats.NumSegments)
		}

		printer.Fprintf(&sb, "  pool %d: %d of %d segments of %d bytes in use (%.1f%%)\n",
			stats.Index, stats.UsedSegments, stats.NumSegments, stats.SegmentSize, utilization)
	}

	return sb.String()
}

// MustAllocate is Allocate for callers that have no way to continue without memory. When no pool
// can serve the request, each pool's counters are logged at error level, the OnExhaustion
// callback runs, the allocator's lock is forced back to its released state and MustAllocate
// panics with an error wrapping memutils.ErrOutOfMemory.
func (a *Allocator) MustAllocate(size int, align uint) arena.Addr {
	addr := a.Allocate(size, align)
	if addr != arena.NullAddr {
		return addr
	}

	report := ExhaustionReport{
		Size:  size,
		Align: align,
		Pools: a.PoolStatistics(),
	}

	for _, stats := range report.Pools {
		a.logger.Error("heap exhausted",
			slog.Int("Pool", stats.Index),
			slog.Int("SegmentSize", stats.SegmentSize),
			slog.Int("NumSegments", stats.NumSegments),
			slog.Int("UsedSegments", stats.UsedSegments),
		)
	}

	if a.onExhaustion != nil {
		a.onExhaustion(report)
	}

	a.lock.Reset()

	err := errors.Wrapf(memutils.ErrOutOfMemory, "could not allocate %d bytes", size)
	panic(errors.WithDetail(err, report.String()))
}
