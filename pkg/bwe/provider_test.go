package bwe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

func TestDefaultAlgorithmProvider_Names(t *testing.T) {
	p, err := NewDefaultAlgorithmProvider(nil)
	require.NoError(t, err)

	assert.IsType(t, &WindowedAlgorithm{}, p.InitialAlgorithm())
	assert.IsType(t, &WindowedAlgorithm{}, p.Algorithm(AlgorithmDefault))
	assert.IsType(t, &LowLatencyAlgorithm{}, p.Algorithm(AlgorithmLowLatency))
	assert.Same(t, p.InitialAlgorithm(), p.Algorithm("no-such-algorithm"), "unknown names fall back to default")
}

func TestDefaultAlgorithmProvider_SharesThroughRegistry(t *testing.T) {
	r := NewRegistry()
	a, err := NewDefaultAlgorithmProvider(r)
	require.NoError(t, err)
	b, err := NewDefaultAlgorithmProvider(r)
	require.NoError(t, err)

	assert.Same(t, a.Algorithm(AlgorithmLowLatency), b.Algorithm(AlgorithmLowLatency))
	assert.Same(t, a.InitialAlgorithm(), b.InitialAlgorithm())
	assert.Equal(t, 2, r.Len())
	assert.Same(t, r, a.Registry())
}

func TestDefaultAlgorithmProvider_ConfigPartitionsInstances(t *testing.T) {
	r := NewRegistry()
	a, err := NewDefaultAlgorithmProvider(r)
	require.NoError(t, err)
	b, err := NewDefaultAlgorithmProvider(r, WithWindowedConfig(WindowedConfig{SlidingWindowMaxWeight: 500}))
	require.NoError(t, err)

	assert.NotSame(t, a.InitialAlgorithm(), b.InitialAlgorithm())
	w := b.InitialAlgorithm().(*WindowedAlgorithm)
	assert.Equal(t, 500, w.percentile.MaxWeight())

	small := DefaultLowLatencyConfig()
	small.MinSampleBytes = 100
	large := DefaultLowLatencyConfig()
	large.MinSampleBytes = 100_000
	firstClock := internal.NewMockClock(time.Time{})
	c, err := NewDefaultAlgorithmProvider(r, WithLowLatencyConfig(small), WithAlgorithmClock(firstClock))
	require.NoError(t, err)
	d, err := NewDefaultAlgorithmProvider(r, WithLowLatencyConfig(large))
	require.NoError(t, err)

	lc := c.Algorithm(AlgorithmLowLatency).(*LowLatencyAlgorithm)
	ld := d.Algorithm(AlgorithmLowLatency).(*LowLatencyAlgorithm)
	require.NotSame(t, lc, ld, "sample thresholds must partition instances")
	assert.Equal(t, 100, lc.minBytes)
	assert.Equal(t, 100_000, ld.minBytes)

	// Same thresholds, different clock: the instance keeps the clock of the
	// provider that created it.
	e, err := NewDefaultAlgorithmProvider(r, WithLowLatencyConfig(small), WithAlgorithmClock(internal.NewMockClock(time.Time{})))
	require.NoError(t, err)
	le := e.Algorithm(AlgorithmLowLatency).(*LowLatencyAlgorithm)
	assert.Same(t, lc, le)
	assert.Same(t, firstClock, le.clock)
}

func TestDefaultAlgorithmProvider_InvalidOption(t *testing.T) {
	_, err := NewDefaultAlgorithmProvider(nil, WithWindowedConfig(WindowedConfig{}))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSelectors(t *testing.T) {
	p, err := NewDefaultAlgorithmProvider(nil)
	require.NoError(t, err)

	assert.Same(t, p.Algorithm(AlgorithmLowLatency), NameSelector(AlgorithmLowLatency).SelectAlgorithm(p))

	keep := AlgorithmSelectorFunc(func(AlgorithmProvider) Algorithm { return nil })
	assert.Nil(t, keep.SelectAlgorithm(p))
}
