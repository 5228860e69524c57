package bwe

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gammazero/deque"
	"gonum.org/v1/gonum/stat"
)

// weightedSample is one weighted observation held by a SlidingPercentile.
type weightedSample struct {
	weight int
	value  float64
}

// SlidingPercentile computes percentiles over a sliding window of weighted
// samples. The window is bounded by cumulative weight rather than by count or
// age: once the total weight would exceed the maximum, the oldest samples are
// evicted, the last one partially, until the total fits again.
//
// Usage:
//
//	p, _ := NewSlidingPercentile(2000)
//	_ = p.AddSample(int(math.Sqrt(bytes)), bitsPerSecond)
//	if median, ok, _ := p.Percentile(0.5); ok {
//	    fmt.Printf("Median: %.0f bps\n", median)
//	}
//
// All methods are safe for concurrent use.
type SlidingPercentile struct {
	mu          sync.Mutex
	maxWeight   int
	totalWeight int
	samples     deque.Deque[weightedSample] // insertion order, oldest at front
}

// NewSlidingPercentile creates a window holding at most maxWeight cumulative
// sample weight. Returns ErrInvalidArgument if maxWeight is not positive.
func NewSlidingPercentile(maxWeight int) (*SlidingPercentile, error) {
	if maxWeight <= 0 {
		return nil, fmt.Errorf("%w: sliding window max weight must be positive, got %d", ErrInvalidArgument, maxWeight)
	}
	return &SlidingPercentile{maxWeight: maxWeight}, nil
}

// AddSample inserts a weighted sample and evicts the oldest weight that no
// longer fits. Returns ErrInvalidArgument if weight is not positive.
func (p *SlidingPercentile) AddSample(weight int, value float64) error {
	if weight <= 0 {
		return fmt.Errorf("%w: sample weight must be positive, got %d", ErrInvalidArgument, weight)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples.PushBack(weightedSample{weight: weight, value: value})
	p.totalWeight += weight

	for p.totalWeight > p.maxWeight {
		excess := p.totalWeight - p.maxWeight
		oldest := p.samples.Front()
		if oldest.weight <= excess {
			p.samples.PopFront()
			p.totalWeight -= oldest.weight
			continue
		}
		oldest.weight -= excess
		p.samples.Set(0, oldest)
		p.totalWeight -= excess
	}
	return nil
}

// Percentile returns the value at percentile p of the current window.
//
// Samples are ordered by value and the first one whose cumulative weight
// reaches p * totalWeight is returned. ok is false when the window is empty.
// Returns ErrInvalidArgument if p is outside [0, 1].
func (p *SlidingPercentile) Percentile(percentile float64) (value float64, ok bool, err error) {
	if !(percentile >= 0 && percentile <= 1) {
		return 0, false, fmt.Errorf("%w: percentile must be within [0,1], got %v", ErrInvalidArgument, percentile)
	}

	p.mu.Lock()
	snapshot := make([]weightedSample, p.samples.Len())
	for i := range snapshot {
		snapshot[i] = p.samples.At(i)
	}
	p.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, false, nil
	}

	// Stable so equal values keep insertion order; the result does not
	// depend on it but the walk stays reproducible.
	slices.SortStableFunc(snapshot, func(a, b weightedSample) int {
		switch {
		case a.value < b.value:
			return -1
		case a.value > b.value:
			return 1
		default:
			return 0
		}
	})

	values := make([]float64, len(snapshot))
	weights := make([]float64, len(snapshot))
	for i, s := range snapshot {
		values[i] = s.value
		weights[i] = float64(s.weight)
	}

	// stat.Empirical returns the first value whose cumulative weight is
	// >= p * sum(weights), which is exactly the weighted rank used here.
	return stat.Quantile(percentile, stat.Empirical, values, weights), true, nil
}

// Reset removes all samples.
func (p *SlidingPercentile) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples.Clear()
	p.totalWeight = 0
}

// TotalWeight returns the cumulative weight currently in the window.
func (p *SlidingPercentile) TotalWeight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalWeight
}

// MaxWeight returns the configured weight bound.
func (p *SlidingPercentile) MaxWeight() int {
	return p.maxWeight
}

// Len returns the number of samples in the window.
func (p *SlidingPercentile) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples.Len()
}
