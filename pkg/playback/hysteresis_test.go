package playback

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// speedRecorder records commanded speeds.
type speedRecorder struct {
	mu     sync.Mutex
	speeds []float32
}

func (r *speedRecorder) SetPlaybackSpeed(speed float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speeds = append(r.speeds, speed)
}

func (r *speedRecorder) all() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float32(nil), r.speeds...)
}

// positionsForLatency returns positions latencyMs behind a fixed live edge.
func positionsForLatency(latencyMs int64) (positionUs, liveTimeUs int64) {
	liveTimeUs = 600_000_000
	return liveTimeUs - latencyMs*1000, liveTimeUs
}

func TestTransition_Table(t *testing.T) {
	const drift = 50

	type step struct {
		State   LatencyState
		Err     int64
		Known   bool
		Next    LatencyState
		Command bool
	}
	want := []step{
		{Inactive, 51, true, SpeedingUp, true},
		{Inactive, -51, true, SlowingDown, true},
		{Inactive, 50, true, Inactive, false},
		{Inactive, -50, true, Inactive, false},
		{Inactive, 0, true, Inactive, false},
		{SpeedingUp, 50, true, Inactive, true},
		{SpeedingUp, -200, true, Inactive, true},
		{SpeedingUp, 51, true, SpeedingUp, true},
		{SlowingDown, -50, true, Inactive, true},
		{SlowingDown, 200, true, Inactive, true},
		{SlowingDown, -51, true, SlowingDown, true},
		{Inactive, 0, false, Inactive, true},
		{SpeedingUp, 0, false, Inactive, true},
		{SlowingDown, 0, false, Inactive, true},
	}

	got := make([]step, 0, len(want))
	for _, s := range want {
		next, command := Transition(s.State, s.Err, s.Known, drift)
		got = append(got, step{s.State, s.Err, s.Known, next, command})
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transition table mismatch (-want +got):\n%s", diff)
	}
}

func TestSpeedFor(t *testing.T) {
	assert.Equal(t, float32(1), SpeedFor(Inactive, 1.3))
	assert.Equal(t, float32(1.3), SpeedFor(SpeedingUp, 1.3))
	assert.Equal(t, float32(1)/float32(1.3), SpeedFor(SlowingDown, 1.3))
}

func TestLatencyState_String(t *testing.T) {
	assert.Equal(t, "Inactive", Inactive.String())
	assert.Equal(t, "SpeedingUp", SpeedingUp.String())
	assert.Equal(t, "SlowingDown", SlowingDown.String())
	assert.Equal(t, "Unknown", LatencyState(42).String())
}

func TestHysteresisController_CatchUpAndSettle(t *testing.T) {
	c, err := NewHysteresisController(WithTargetLatency(3000), WithMaxDrift(50))
	require.NoError(t, err)
	rec := &speedRecorder{}

	pos, live := positionsForLatency(3100)
	c.OnPositionsUpdated(rec, pos, live)
	assert.Equal(t, SpeedingUp, c.State())

	pos, live = positionsForLatency(3040)
	c.OnPositionsUpdated(rec, pos, live)
	assert.Equal(t, Inactive, c.State())

	assert.Equal(t, []float32{1.3, 1}, rec.all())
}

func TestHysteresisController_SlowDownAndReassert(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	rec := &speedRecorder{}

	for _, latency := range []int64{2900, 2940, 2960} {
		pos, live := positionsForLatency(latency)
		c.OnPositionsUpdated(rec, pos, live)
	}

	slow := float32(1) / float32(1.3)
	assert.Equal(t, []float32{slow, slow, 1}, rec.all())
	assert.Equal(t, Inactive, c.State())
}

func TestHysteresisController_SilentWithinBand(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	rec := &speedRecorder{}

	for _, latency := range []int64{3000, 3050, 2950, 3010} {
		pos, live := positionsForLatency(latency)
		c.OnPositionsUpdated(rec, pos, live)
	}

	assert.Empty(t, rec.all())
}

func TestHysteresisController_UnknownPositions(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	rec := &speedRecorder{}

	pos, live := positionsForLatency(5000)
	c.OnPositionsUpdated(rec, pos, live)
	require.Equal(t, SpeedingUp, c.State())

	c.OnPositionsUpdated(rec, TimeUnset, live)
	assert.Equal(t, Inactive, c.State())
	c.OnPositionsUpdated(rec, pos, TimeUnset)

	assert.Equal(t, []float32{1.3, 1, 1}, rec.all())
}

func TestHysteresisController_Reset(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	rec := &speedRecorder{}

	c.OnPositionsUpdated(rec, 0, 0) // no latency at all: slow down
	require.Equal(t, SlowingDown, c.State())

	c.Reset()
	assert.Equal(t, Inactive, c.State())
	assert.Len(t, rec.all(), 1, "reset does not command a speed")
}

func TestHysteresisController_Defaults(t *testing.T) {
	c, err := NewHysteresisController()
	require.NoError(t, err)
	assert.Equal(t, DefaultHysteresisConfig(), c.Config())
	assert.Equal(t, Inactive, c.State())
}
