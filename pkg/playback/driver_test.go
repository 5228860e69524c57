package playback

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource reports a constant latency behind a live edge that advances
// on every read.
type fixedSource struct {
	latencyUs int64
	liveUs    atomic.Int64
	reads     atomic.Int32
}

func (s *fixedSource) LiveEdgePositionUs() int64 {
	s.reads.Add(1)
	return s.liveUs.Add(1000)
}

func (s *fixedSource) PositionUs() int64 {
	return s.liveUs.Load() - s.latencyUs
}

func TestNewDriver_Validation(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	h := SpeedHandlerFunc(func(float32) {})

	_, err = NewDriver(nil, c, h, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewDriver(&fixedSource{}, nil, h, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewDriver(&fixedSource{}, c, h, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	d, err := NewDriver(&fixedSource{}, c, h, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDriverInterval, d.interval)
}

func TestDriver_Tick(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	var last float32
	d, err := NewDriver(&fixedSource{latencyUs: 10_000_000}, c, SpeedHandlerFunc(func(s float32) { last = s }), time.Second)
	require.NoError(t, err)

	d.Tick()

	assert.Equal(t, SpeedingUp, c.State())
	assert.Equal(t, float32(1.3), last)
}

func TestDriver_RunStopsOnCancel(t *testing.T) {
	c, err := NewProportionalController()
	require.NoError(t, err)
	src := &fixedSource{latencyUs: 3_000_000}
	var commands atomic.Int32
	d, err := NewDriver(src, c, SpeedHandlerFunc(func(float32) { commands.Add(1) }), time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return commands.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
