package bwe

import "sync"

// Registry shares algorithm instances between unrelated consumers. At most
// one instance exists per AlgorithmKey for the registry's lifetime; instances
// are created lazily and never evicted.
//
// Applications create one Registry at start-up and hand it to every
// BandwidthMeter (or AlgorithmProvider) that should share estimates.
type Registry struct {
	mu        sync.RWMutex
	instances map[AlgorithmKey]Algorithm
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[AlgorithmKey]Algorithm),
	}
}

// GetShared returns the instance registered under key, creating it with
// factory if there is none. Concurrent first requests for the same key
// invoke factory exactly once and all receive the same instance.
func (r *Registry) GetShared(key AlgorithmKey, factory func() Algorithm) Algorithm {
	r.mu.RLock()
	instance, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		return instance
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if instance, ok := r.instances[key]; ok {
		return instance
	}
	instance = factory()
	r.instances[key] = instance
	return instance
}

// Len returns the number of shared instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
