package bwe

import (
	"github.com/pion/logging"
)

// AlgorithmProvider hands out algorithms by name.
type AlgorithmProvider interface {
	// InitialAlgorithm returns the algorithm used before anything is known
	// about the media being played.
	InitialAlgorithm() Algorithm

	// Algorithm returns the algorithm registered under name.
	Algorithm(name string) Algorithm
}

// AlgorithmSelector picks an algorithm for a media source, typically from
// properties of the stream such as whether it is a low-latency live stream.
// Returning nil keeps the current algorithm.
type AlgorithmSelector interface {
	SelectAlgorithm(provider AlgorithmProvider) Algorithm
}

// AlgorithmSelectorFunc adapts a function to AlgorithmSelector.
type AlgorithmSelectorFunc func(provider AlgorithmProvider) Algorithm

// SelectAlgorithm calls f(provider).
func (f AlgorithmSelectorFunc) SelectAlgorithm(provider AlgorithmProvider) Algorithm {
	return f(provider)
}

// NameSelector selects the provider's algorithm registered under name.
func NameSelector(name string) AlgorithmSelector {
	return AlgorithmSelectorFunc(func(p AlgorithmProvider) Algorithm {
		return p.Algorithm(name)
	})
}

// DefaultAlgorithmProvider serves the windowed algorithm as AlgorithmDefault
// and the low-latency algorithm as AlgorithmLowLatency. Both are shared
// through a Registry, so meters using the same registry observe the same
// transfers and the same estimate. Unknown names fall back to the default.
//
// Providers configured with different weights or thresholds get separate
// instances. The clock and logger factory of a shared instance are those of
// the provider that created it.
type DefaultAlgorithmProvider struct {
	registry *Registry
	opts     algorithmOptions
	log      logging.LeveledLogger
}

// NewDefaultAlgorithmProvider creates a provider backed by registry. A nil
// registry gives the provider a private one.
func NewDefaultAlgorithmProvider(registry *Registry, opts ...AlgorithmOption) (*DefaultAlgorithmProvider, error) {
	o, err := applyAlgorithmOptions(opts)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &DefaultAlgorithmProvider{
		registry: registry,
		opts:     o,
		log:      o.loggerFactory.NewLogger("bwe_provider"),
	}, nil
}

// InitialAlgorithm returns the shared windowed algorithm.
func (p *DefaultAlgorithmProvider) InitialAlgorithm() Algorithm {
	return p.Algorithm(AlgorithmDefault)
}

// Algorithm returns the shared algorithm registered under name.
func (p *DefaultAlgorithmProvider) Algorithm(name string) Algorithm {
	switch name {
	case AlgorithmDefault:
		key := AlgorithmKey{Name: AlgorithmDefault, MaxWeight: p.opts.windowedMaxWeight}
		return p.registry.GetShared(key, func() Algorithm {
			// Options were validated by NewDefaultAlgorithmProvider.
			a, _ := NewWindowedAlgorithm(p.reuseOptions()...)
			return a
		})
	case AlgorithmLowLatency:
		key := AlgorithmKey{
			Name:               AlgorithmLowLatency,
			MaxWeight:          p.opts.lowLatencyMaxWeight,
			MinSampleElapsedMs: p.opts.lowLatencyMinElapsedMs,
			MinSampleBytes:     p.opts.lowLatencyMinBytes,
		}
		return p.registry.GetShared(key, func() Algorithm {
			a, _ := NewLowLatencyAlgorithm(p.reuseOptions()...)
			return a
		})
	default:
		p.log.Warnf("unknown algorithm %q, using %q", name, AlgorithmDefault)
		return p.Algorithm(AlgorithmDefault)
	}
}

// Registry returns the registry the provider shares instances through.
func (p *DefaultAlgorithmProvider) Registry() *Registry {
	return p.registry
}

func (p *DefaultAlgorithmProvider) reuseOptions() []AlgorithmOption {
	return []AlgorithmOption{func(o *algorithmOptions) error {
		*o = p.opts
		return nil
	}}
}
