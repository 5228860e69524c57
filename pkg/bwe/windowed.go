package bwe

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

const (
	// elapsedMillisForEstimate is the accumulated transfer time after which
	// the windowed algorithm publishes a new estimate.
	elapsedMillisForEstimate = 2000

	// bytesTransferredForEstimate is the accumulated transfer volume after
	// which the windowed algorithm publishes a new estimate.
	bytesTransferredForEstimate = 512 * 1024
)

// WindowedConfig configures the windowed sliding-percentile algorithm.
type WindowedConfig struct {
	// SlidingWindowMaxWeight bounds the cumulative sample weight kept by the
	// percentile window.
	// Default: 2000
	SlidingWindowMaxWeight int
}

// DefaultWindowedConfig returns the default windowed algorithm configuration.
func DefaultWindowedConfig() WindowedConfig {
	return WindowedConfig{
		SlidingWindowMaxWeight: 2000,
	}
}

// Validate returns ErrInvalidArgument for a non-positive window weight.
func (c WindowedConfig) Validate() error {
	if c.SlidingWindowMaxWeight <= 0 {
		return fmt.Errorf("%w: sliding window max weight must be positive, got %d", ErrInvalidArgument, c.SlidingWindowMaxWeight)
	}
	return nil
}

// WindowedAlgorithm aggregates every sampling window into one throughput
// sample. A sampling window opens when the first concurrent network transfer
// starts and closes when one of them ends; the bytes observed in between
// become a sample weighted by their square root.
//
// Estimates (the weighted median of the window) are only published once
// enough data has accumulated: 2 seconds of transfer time or 512 KiB.
type WindowedAlgorithm struct {
	mu         sync.Mutex
	clock      internal.Clock
	log        logging.LeveledLogger
	percentile *SlidingPercentile
	listeners  listenerList[Listener]

	streamCount            int
	sampleStartTime        time.Time
	sampleBytesTransferred int64

	networkType           NetworkType
	totalElapsedTimeMs    int64
	totalBytesTransferred int64
}

// NewWindowedAlgorithm creates a windowed algorithm. Use
// WithWindowedConfig to change the window weight.
func NewWindowedAlgorithm(opts ...AlgorithmOption) (*WindowedAlgorithm, error) {
	o, err := applyAlgorithmOptions(opts)
	if err != nil {
		return nil, err
	}
	percentile, err := NewSlidingPercentile(o.windowedMaxWeight)
	if err != nil {
		return nil, err
	}
	return &WindowedAlgorithm{
		clock:      o.clock,
		log:        o.loggerFactory.NewLogger("bwe_windowed"),
		percentile: percentile,
	}, nil
}

// TransferListener returns the algorithm itself.
func (a *WindowedAlgorithm) TransferListener() TransferListener {
	return a
}

// AddListener registers l for estimate and sample events.
func (a *WindowedAlgorithm) AddListener(l Listener) bool {
	return a.listeners.add(l)
}

// RemoveListener unregisters l.
func (a *WindowedAlgorithm) RemoveListener(l Listener) bool {
	return a.listeners.remove(l)
}

// OnNetworkTypeChanged resets the accumulated state when the connection
// changes to a definite new type. Switches to offline, unknown or other are
// recorded but keep the samples.
func (a *WindowedAlgorithm) OnNetworkTypeChanged(networkType NetworkType) {
	var events pendingEvents

	a.mu.Lock()
	if a.networkType == networkType {
		a.mu.Unlock()
		return
	}
	previous := a.networkType
	a.networkType = networkType
	if networkType.ambiguous() {
		a.mu.Unlock()
		a.log.Debugf("network type %s -> %s, keeping samples", previous, networkType)
		return
	}

	// Report the bytes of the interrupted sample, then start over.
	events.sample(a.sampleBytesTransferred)
	a.sampleStartTime = a.clock.Now()
	a.sampleBytesTransferred = 0
	a.totalBytesTransferred = 0
	a.totalElapsedTimeMs = 0
	a.percentile.Reset()
	a.mu.Unlock()

	a.log.Debugf("network type %s -> %s, reset estimator", previous, networkType)
	events.flush(&a.listeners, a.log)
}

// OnTransferInitializing does nothing.
func (a *WindowedAlgorithm) OnTransferInitializing(bool) {}

// OnTransferStart opens a sampling window if no network transfer is open.
func (a *WindowedAlgorithm) OnTransferStart(isNetwork bool) {
	if !isNetwork {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.streamCount == 0 {
		a.sampleStartTime = a.clock.Now()
	}
	a.streamCount++
}

// OnBytesTransferred adds bytes to the current sampling window.
func (a *WindowedAlgorithm) OnBytesTransferred(isNetwork bool, bytes int) {
	if !isNetwork {
		return
	}
	a.mu.Lock()
	a.sampleBytesTransferred += int64(bytes)
	a.mu.Unlock()
}

// OnTransferEnd closes the current sampling window.
//
// When time has elapsed since the window opened, its throughput is added to
// the percentile window and a sample event is published, followed by an
// estimate event once the accumulation thresholds are met. A window closed
// within the same millisecond carries its bytes into the next one.
//
// Returns ErrIllegalState if no network transfer is open.
func (a *WindowedAlgorithm) OnTransferEnd(isNetwork bool) error {
	if !isNetwork {
		return nil
	}
	var events pendingEvents

	a.mu.Lock()
	if a.streamCount == 0 {
		a.mu.Unlock()
		return fmt.Errorf("%w: transfer end without a matching start", ErrIllegalState)
	}
	a.streamCount--

	now := a.clock.Now()
	elapsedMs := internal.ElapsedMs(a.sampleStartTime, now)
	if elapsedMs > 0 {
		bytes := a.sampleBytesTransferred
		if weight := sampleWeight(bytes); weight > 0 {
			// weight > 0 always satisfies AddSample.
			_ = a.percentile.AddSample(weight, bitsPerSecond(bytes, elapsedMs))
		}
		a.totalElapsedTimeMs += elapsedMs
		a.totalBytesTransferred += bytes

		if a.totalElapsedTimeMs >= elapsedMillisForEstimate || a.totalBytesTransferred >= bytesTransferredForEstimate {
			if median, ok, _ := a.percentile.Percentile(0.5); ok {
				events.estimate(int64(median))
			}
			a.totalElapsedTimeMs = 0
			a.totalBytesTransferred = 0
		}
		events.sample(bytes)

		a.sampleStartTime = now
		a.sampleBytesTransferred = 0
	}
	a.mu.Unlock()

	events.flush(&a.listeners, a.log)
	return nil
}

// NetworkType returns the last network type the algorithm was told about.
func (a *WindowedAlgorithm) NetworkType() NetworkType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.networkType
}
