package bwe

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRegistry_SameKeySameInstance(t *testing.T) {
	r := NewRegistry()
	key := AlgorithmKey{Name: AlgorithmDefault, MaxWeight: 2000}

	first := r.GetShared(key, func() Algorithm {
		a, _ := NewWindowedAlgorithm()
		return a
	})
	second := r.GetShared(key, func() Algorithm {
		t.Fatal("factory must not run for an existing key")
		return nil
	})

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DistinctKeys(t *testing.T) {
	r := NewRegistry()
	newWindowed := func() Algorithm {
		a, _ := NewWindowedAlgorithm()
		return a
	}

	a := r.GetShared(AlgorithmKey{Name: AlgorithmDefault, MaxWeight: 2000}, newWindowed)
	b := r.GetShared(AlgorithmKey{Name: AlgorithmDefault, MaxWeight: 1000}, newWindowed)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentFirstUseBuildsOnce(t *testing.T) {
	r := NewRegistry()
	key := AlgorithmKey{Name: AlgorithmLowLatency, MaxWeight: 1000}
	var built atomic.Int32

	const workers = 64
	results := make([]Algorithm, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			results[i] = r.GetShared(key, func() Algorithm {
				built.Add(1)
				a, err := NewLowLatencyAlgorithm()
				assert.NoError(t, err)
				return a
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), built.Load())
	for _, a := range results {
		assert.Same(t, results[0], a)
	}
}
