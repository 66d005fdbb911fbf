package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/cryptondee/megaeth/pkg/types"
)

// StreamingLatencyStats provides streaming percentile estimation over
// broadcast round-trip times. Uses reservoir sampling (Algorithm R) so
// memory stays bounded no matter how many transactions a run sends.
type StreamingLatencyStats struct {
	mu sync.RWMutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir     []float64
	reservoirSize int
	seen          int64

	// Per-instance xorshift64* state; avoids data races from global state.
	randState uint64
}

// DefaultReservoirSize is the number of samples kept for percentile
// estimation. Larger = more accurate, but more memory. 10000 gives <1%
// error at p99.
const DefaultReservoirSize = 10000

// NewStreamingLatencyStats creates a new streaming latency calculator.
func NewStreamingLatencyStats() *StreamingLatencyStats {
	return &StreamingLatencyStats{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, DefaultReservoirSize),
		reservoirSize: DefaultReservoirSize,
		randState:     1,
	}
}

// Add records a latency sample in milliseconds. O(1) and safe for
// concurrent use.
func (s *StreamingLatencyStats) Add(latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += latencyMs
	s.seen++

	if latencyMs < s.min {
		s.min = latencyMs
	}
	if latencyMs > s.max {
		s.max = latencyMs
	}

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, latencyMs)
	} else {
		// Replace with probability reservoirSize/seen.
		j := s.fastRand() % uint64(s.seen)
		if j < uint64(s.reservoirSize) {
			s.reservoir[j] = latencyMs
		}
	}
}

// fastRand returns a pseudo-random uint64 using xorshift64*. Not
// cryptographically secure, but fast and good enough for reservoir
// sampling.
func (s *StreamingLatencyStats) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// GetStats returns the current latency statistics, or nil when no samples
// were recorded.
func (s *StreamingLatencyStats) GetStats() *types.LatencyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	// Copy the reservoir for sorting; Add keeps writing to the original.
	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	return &types.LatencyStats{
		Count: int(s.count),
		Min:   s.min,
		Max:   s.max,
		Avg:   s.sum / float64(s.count),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// Count returns the number of samples recorded.
func (s *StreamingLatencyStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// percentile calculates the p-th percentile from a sorted slice by linear
// interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
