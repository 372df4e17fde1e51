package pool

import (
	"math"

	"github.com/pkg/errors"
	"github.com/thek-os/segheap/memutils"
	"golang.org/x/exp/slices"
)

const (
	// MaxPools is the largest number of pools a schema may describe
	MaxPools = 5

	// DefaultSegmentSize is the segment size used by DefaultSchema
	DefaultSegmentSize = 4 * 1024
)

// PoolSpec describes one pool of a Schema: the size of its segments in bytes and the percentage
// of the region it receives
type PoolSpec struct {
	SegmentSize int
	Percentage  uint8
}

// Schema is an ordered list of pools, ascending by segment size, whose percentages sum to 100
type Schema []PoolSpec

// DefaultSchema is used when an empty schema is supplied: the whole region as 4K segments
var DefaultSchema = Schema{{SegmentSize: DefaultSegmentSize, Percentage: 100}}

// SmallSchema favors many small allocations: 80% of the region as 256 byte segments, 10% as
// 1K segments and the remainder as two single-segment pools
func SmallSchema() Schema {
	return Schema{
		{SegmentSize: 256, Percentage: 80},
		{SegmentSize: 1024, Percentage: 10},
		{SegmentSize: math.MaxInt - 1, Percentage: 5},
		{SegmentSize: math.MaxInt, Percentage: 5},
	}
}

// BigSchema favors large allocations: 10% of the region as 4K segments, 80% as 128K segments
// and the remainder as two single-segment pools
func BigSchema() Schema {
	return Schema{
		{SegmentSize: 4 * 1024, Percentage: 10},
		{SegmentSize: 128 * 1024, Percentage: 80},
		{SegmentSize: math.MaxInt - 1, Percentage: 5},
		{SegmentSize: math.MaxInt, Percentage: 5},
	}
}

// OrDefault returns DefaultSchema if the schema is empty, and the schema itself otherwise
func (s Schema) OrDefault() Schema {
	if len(s) == 0 {
		return DefaultSchema
	}
	return s
}

// Validate checks the schema contract: at most MaxPools entries, positive segment sizes in
// strictly ascending order, percentages of at most 100 that sum to exactly 100
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.Wrap(memutils.ErrConfiguration, "schema has no pools")
	}

	if len(s) > MaxPools {
		return errors.Wrapf(memutils.ErrConfiguration, "schema has %d pools, but at most %d are supported", len(s), MaxPools)
	}

	var sum int
	for index, spec := range s {
		if spec.SegmentSize <= 0 {
			return errors.Wrapf(memutils.ErrConfiguration, "pool %d has a segment size of %d", index, spec.SegmentSize)
		}

		if spec.Percentage > 100 {
			return errors.Wrapf(memutils.ErrConfiguration, "pool %d claims %d%% of the region", index, spec.Percentage)
		}
		sum += int(spec.Percentage)
	}

	ascending := slices.IsSortedFunc([]PoolSpec(s), func(a, b PoolSpec) bool {
		return a.SegmentSize < b.SegmentSize
	})
	if !ascending {
		return errors.Wrap(memutils.ErrConfiguration, "pools must be ordered from smallest segment size to largest")
	}

	for index := 1; index < len(s); index++ {
		if s[index].SegmentSize == s[index-1].SegmentSize {
			return errors.Wrapf(memutils.ErrConfiguration, "pools %d and %d share a segment size of %d", index-1, index, s[index].SegmentSize)
		}
	}

	if sum != 100 {
		return errors.Wrapf(memutils.ErrConfiguration, "pool percentages sum to %d, not 100", sum)
	}

	return nil
}
