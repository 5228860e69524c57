// Package internal holds the time source shared by the bandwidth meter, its
// algorithms and the transfer interceptor.
package internal

import (
	"sync"
	"time"
)

// Clock supplies the instants transfers are timed against. Successive calls
// must not go backwards.
type Clock interface {
	Now() time.Time
}

// MonotonicClock reads the system clock. time.Now carries a monotonic
// reading, so differences between its values ignore wall clock steps.
type MonotonicClock struct{}

// Now returns time.Now().
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// ElapsedMs returns the whole milliseconds from start to now, truncated
// toward zero. Transfers are measured at millisecond resolution.
func ElapsedMs(start, now time.Time) int64 {
	return now.Sub(start).Milliseconds()
}

// MockClock only moves when told to. Tests use it to place transfer events at
// exact instants; it may be shared between goroutines.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a clock reading start. A zero start is replaced by a
// fixed instant well after the zero time, so that subtracting durations from
// readings stays meaningful.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Unix(1_000_000_000, 0)
	}
	return &MockClock{now: start}
}

// Now returns the current reading.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. It panics on a negative d, which
// would break monotonicity.
func (c *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("internal: MockClock cannot move backwards")
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t. Meant for setting up a test before any reading
// is taken.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
