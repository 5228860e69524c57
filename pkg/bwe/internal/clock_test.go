package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_Advance(t *testing.T) {
	c := NewMockClock(time.Time{})
	start := c.Now()
	assert.False(t, start.IsZero())

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), c.Now())
	assert.Panics(t, func() { c.Advance(-time.Nanosecond) })

	at := time.Unix(42, 0)
	c.Set(at)
	assert.Equal(t, at, c.Now())
}

func TestMockClock_ConcurrentAdvance(t *testing.T) {
	c := NewMockClock(time.Time{})
	start := c.Now()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Millisecond)
				_ = c.Now()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1600*time.Millisecond, c.Now().Sub(start))
}

func TestElapsedMs(t *testing.T) {
	start := time.Unix(100, 0)
	tests := []struct {
		d    time.Duration
		want int64
	}{
		{0, 0},
		{999 * time.Microsecond, 0},
		{time.Millisecond, 1},
		{2500 * time.Microsecond, 2},
		{3 * time.Second, 3000},
		{-1500 * time.Microsecond, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ElapsedMs(start, start.Add(tt.d)), "%v", tt.d)
	}
}

func TestMonotonicClock(t *testing.T) {
	var c Clock = MonotonicClock{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
