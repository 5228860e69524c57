package bwe

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

// LowLatencyConfig configures the continuous low-latency algorithm.
type LowLatencyConfig struct {
	// SlidingWindowMaxWeight bounds the cumulative sample weight kept by the
	// percentile window. Shorter than the windowed default so the estimate
	// follows the link quickly.
	// Default: 1000
	SlidingWindowMaxWeight int

	// MinSampleElapsedMs and MinSampleBytes filter degenerate chunks: a chunk
	// becomes a sample only if more than MinSampleElapsedMs passed since the
	// previous chunk or it carries more than MinSampleBytes.
	// Default: 100 ms, 100 bytes
	MinSampleElapsedMs int64
	MinSampleBytes     int
}

// DefaultLowLatencyConfig returns the default low-latency configuration.
func DefaultLowLatencyConfig() LowLatencyConfig {
	return LowLatencyConfig{
		SlidingWindowMaxWeight: 1000,
		MinSampleElapsedMs:     100,
		MinSampleBytes:         100,
	}
}

// Validate returns ErrInvalidArgument for out-of-range values.
func (c LowLatencyConfig) Validate() error {
	if c.SlidingWindowMaxWeight <= 0 {
		return fmt.Errorf("%w: sliding window max weight must be positive, got %d", ErrInvalidArgument, c.SlidingWindowMaxWeight)
	}
	if c.MinSampleElapsedMs < 0 || c.MinSampleBytes < 0 {
		return fmt.Errorf("%w: sample thresholds must not be negative", ErrInvalidArgument)
	}
	return nil
}

// LowLatencyAlgorithm publishes an estimate for almost every transferred
// chunk. Each chunk's throughput, measured against the previous chunk's
// arrival, is added to a short percentile window whose median is published
// immediately. It trades smoothing for freshness, which suits tracking a live
// edge where reacting late costs more than a noisy estimate.
type LowLatencyAlgorithm struct {
	mu         sync.Mutex
	clock      internal.Clock
	log        logging.LeveledLogger
	percentile *SlidingPercentile
	listeners  listenerList[Listener]

	minElapsedMs int64
	minBytes     int

	networkType    NetworkType
	streamCount    int
	lastByteUpdate time.Time
	sessionStart   time.Time
	sessionBytes   int64
}

// NewLowLatencyAlgorithm creates a low-latency algorithm. Use
// WithLowLatencyConfig to change its window and thresholds.
func NewLowLatencyAlgorithm(opts ...AlgorithmOption) (*LowLatencyAlgorithm, error) {
	o, err := applyAlgorithmOptions(opts)
	if err != nil {
		return nil, err
	}
	percentile, err := NewSlidingPercentile(o.lowLatencyMaxWeight)
	if err != nil {
		return nil, err
	}
	return &LowLatencyAlgorithm{
		clock:        o.clock,
		log:          o.loggerFactory.NewLogger("bwe_lowlatency"),
		percentile:   percentile,
		minElapsedMs: o.lowLatencyMinElapsedMs,
		minBytes:     o.lowLatencyMinBytes,
	}, nil
}

// TransferListener returns the algorithm itself.
func (a *LowLatencyAlgorithm) TransferListener() TransferListener {
	return a
}

// AddListener registers l for estimate and sample events.
func (a *LowLatencyAlgorithm) AddListener(l Listener) bool {
	return a.listeners.add(l)
}

// RemoveListener unregisters l.
func (a *LowLatencyAlgorithm) RemoveListener(l Listener) bool {
	return a.listeners.remove(l)
}

// OnNetworkTypeChanged drops the window on a switch to a definite new
// connection type.
func (a *LowLatencyAlgorithm) OnNetworkTypeChanged(networkType NetworkType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.networkType == networkType {
		return
	}
	a.networkType = networkType
	if networkType.ambiguous() {
		return
	}
	a.percentile.Reset()
	a.sessionStart = a.clock.Now()
	a.sessionBytes = 0
}

// OnTransferInitializing does nothing.
func (a *LowLatencyAlgorithm) OnTransferInitializing(bool) {}

// OnTransferStart marks the reference time for the first chunk and opens a
// session when no network transfer is open.
func (a *LowLatencyAlgorithm) OnTransferStart(isNetwork bool) {
	if !isNetwork {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.lastByteUpdate = now
	if a.streamCount == 0 {
		a.sessionStart = now
		a.sessionBytes = 0
	}
	a.streamCount++
}

// OnBytesTransferred turns a chunk into a sample and publishes the new
// median right away. Chunks that are both tiny and near-instantaneous are
// left out of the window. A raw sample event is published for every chunk.
func (a *LowLatencyAlgorithm) OnBytesTransferred(isNetwork bool, bytes int) {
	if !isNetwork {
		return
	}
	var events pendingEvents

	a.mu.Lock()
	now := a.clock.Now()
	if a.lastByteUpdate.IsZero() {
		a.lastByteUpdate = now
	}
	elapsedMs := internal.ElapsedMs(a.lastByteUpdate, now)
	a.sessionBytes += int64(bytes)

	if elapsedMs > a.minElapsedMs || bytes > a.minBytes {
		// Sub-millisecond chunks are measured at millisecond resolution.
		rate := bitsPerSecond(int64(bytes), max(elapsedMs, 1))
		if weight := sampleWeight(int64(bytes)); weight > 0 {
			_ = a.percentile.AddSample(weight, rate)
		}
		if median, ok, _ := a.percentile.Percentile(0.5); ok {
			events.estimate(int64(median))
		}
	} else {
		a.log.Tracef("ignored %d bytes after %d ms", bytes, elapsedMs)
	}
	a.lastByteUpdate = now
	events.sample(int64(bytes))
	a.mu.Unlock()

	events.flush(&a.listeners, a.log)
}

// OnTransferEnd closes the session once the last open transfer ends,
// publishing the whole session's throughput as a terminal estimate together
// with its byte count.
//
// Returns ErrIllegalState if no network transfer is open.
func (a *LowLatencyAlgorithm) OnTransferEnd(isNetwork bool) error {
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
	if a.streamCount == 0 {
		elapsedMs := internal.ElapsedMs(a.sessionStart, a.clock.Now())
		if elapsedMs > 0 && a.sessionBytes > 0 {
			events.estimate(int64(bitsPerSecond(a.sessionBytes, elapsedMs)))
			events.sample(a.sessionBytes)
		}
		a.sessionBytes = 0
		a.lastByteUpdate = time.Time{}
	}
	a.mu.Unlock()

	events.flush(&a.listeners, a.log)
	return nil
}
