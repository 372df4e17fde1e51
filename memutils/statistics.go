package memutils

import "math"

// Statistics sums the state of one or more segment pools
type Statistics struct {
	PoolCount    int
	SegmentCount int
	UsedSegments int
	PayloadBytes int
	UsedBytes    int
}

func (s *Statistics) Clear() {
	s.PoolCount = 0
	s.SegmentCount = 0
	s.UsedSegments = 0
	s.PayloadBytes = 0
	s.UsedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.PoolCount += other.PoolCount
	s.SegmentCount += other.SegmentCount
	s.UsedSegments += other.UsedSegments
	s.PayloadBytes += other.PayloadBytes
	s.UsedBytes += other.UsedBytes
}

// FreeSegments is the number of segments that can still be handed out
func (s *Statistics) FreeSegments() int {
	return s.SegmentCount - s.UsedSegments
}

// Utilization returns the fraction of payload bytes currently checked out, between 0 and 1
func (s *Statistics) Utilization() float64 {
	if s.PayloadBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.PayloadBytes)
}

type DetailedStatistics struct {
	Statistics
	// RequestedBytes is only populated when the heap tracks live allocations. The difference
	// between it and UsedBytes is slack lost to segment rounding.
	RequestedBytes     int
	ExhaustedPools     int
	SegmentSizeMin     int
	SegmentSizeMax     int
	FreeSegmentSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.RequestedBytes = 0
	s.ExhaustedPools = 0
	s.SegmentSizeMin = math.MaxInt
	s.SegmentSizeMax = 0
	s.FreeSegmentSizeMax = 0
}

// AddPool folds a single pool's counters into the statistics
func (s *DetailedStatistics) AddPool(segmentSize, numSegments, usedSegments int) {
	s.PoolCount++
	s.SegmentCount += numSegments
	s.UsedSegments += usedSegments
	s.PayloadBytes += segmentSize * numSegments
	s.UsedBytes += segmentSize * usedSegments

	if segmentSize < s.SegmentSizeMin {
		s.SegmentSizeMin = segmentSize
	}

	if segmentSize > s.SegmentSizeMax {
		s.SegmentSizeMax = segmentSize
	}

	if usedSegments >= numSegments {
		s.ExhaustedPools++
	} else if segmentSize > s.FreeSegmentSizeMax {
		s.FreeSegmentSizeMax = segmentSize
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.RequestedBytes += other.RequestedBytes
	s.ExhaustedPools += other.ExhaustedPools

	if other.SegmentSizeMin < s.SegmentSizeMin {
		s.SegmentSizeMin = other.SegmentSizeMin
	}

	if other.SegmentSizeMax > s.SegmentSizeMax {
		s.SegmentSizeMax = other.SegmentSizeMax
	}

	if other.FreeSegmentSizeMax > s.FreeSegmentSizeMax {
		s.FreeSegmentSizeMax = other.FreeSegmentSizeMax
	}
}
