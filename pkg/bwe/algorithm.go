package bwe

import (
	"math"

	"github.com/pion/logging"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

// Algorithm names understood by DefaultAlgorithmProvider.
const (
	// AlgorithmDefault selects the windowed sliding-percentile algorithm.
	AlgorithmDefault = "default"
	// AlgorithmLowLatency selects the continuous low-latency algorithm.
	AlgorithmLowLatency = "lowlatency"
)

// Algorithm turns transfer events into bandwidth estimates.
//
// Implementations publish through their own listener list; the
// BandwidthMeter attaches itself as a listener of the active algorithm.
type Algorithm interface {
	// TransferListener returns the sink for transfer events.
	TransferListener() TransferListener

	// OnNetworkTypeChanged notifies the algorithm of a connectivity change.
	OnNetworkTypeChanged(networkType NetworkType)

	// AddListener registers l, replacing a previous registration of l.
	AddListener(l Listener) bool

	// RemoveListener unregisters l and reports whether it was registered.
	RemoveListener(l Listener) bool
}

// AlgorithmKey identifies an algorithm variant and the configuration that
// shapes its estimates. Registry lookups with equal keys share one instance.
//
// The clock and logger factory are not part of the key: the instance keeps
// those of whichever caller created it first.
type AlgorithmKey struct {
	Name      string
	MaxWeight int

	// Sample thresholds of the low-latency algorithm. Zero for the
	// windowed one.
	MinSampleElapsedMs int64
	MinSampleBytes     int
}

// AlgorithmOption configures the algorithms created by NewWindowedAlgorithm,
// NewLowLatencyAlgorithm and NewDefaultAlgorithmProvider.
type AlgorithmOption func(*algorithmOptions) error

type algorithmOptions struct {
	clock                  internal.Clock
	loggerFactory          logging.LoggerFactory
	windowedMaxWeight      int
	lowLatencyMaxWeight    int
	lowLatencyMinElapsedMs int64
	lowLatencyMinBytes     int
}

func defaultAlgorithmOptions() algorithmOptions {
	return algorithmOptions{
		clock:                  internal.MonotonicClock{},
		loggerFactory:          logging.NewDefaultLoggerFactory(),
		windowedMaxWeight:      DefaultWindowedConfig().SlidingWindowMaxWeight,
		lowLatencyMaxWeight:    DefaultLowLatencyConfig().SlidingWindowMaxWeight,
		lowLatencyMinElapsedMs: DefaultLowLatencyConfig().MinSampleElapsedMs,
		lowLatencyMinBytes:     DefaultLowLatencyConfig().MinSampleBytes,
	}
}

func applyAlgorithmOptions(opts []AlgorithmOption) (algorithmOptions, error) {
	o := defaultAlgorithmOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// WithAlgorithmClock sets the clock used to measure transfer durations.
// A nil clock selects the monotonic system clock.
func WithAlgorithmClock(clock internal.Clock) AlgorithmOption {
	return func(o *algorithmOptions) error {
		if clock == nil {
			clock = internal.MonotonicClock{}
		}
		o.clock = clock
		return nil
	}
}

// WithAlgorithmLoggerFactory sets the logger factory for algorithm logs.
func WithAlgorithmLoggerFactory(f logging.LoggerFactory) AlgorithmOption {
	return func(o *algorithmOptions) error {
		if f != nil {
			o.loggerFactory = f
		}
		return nil
	}
}

// WithWindowedConfig overrides the windowed algorithm configuration.
func WithWindowedConfig(config WindowedConfig) AlgorithmOption {
	return func(o *algorithmOptions) error {
		if err := config.Validate(); err != nil {
			return err
		}
		o.windowedMaxWeight = config.SlidingWindowMaxWeight
		return nil
	}
}

// WithLowLatencyConfig overrides the low-latency algorithm configuration.
func WithLowLatencyConfig(config LowLatencyConfig) AlgorithmOption {
	return func(o *algorithmOptions) error {
		if err := config.Validate(); err != nil {
			return err
		}
		o.lowLatencyMaxWeight = config.SlidingWindowMaxWeight
		o.lowLatencyMinElapsedMs = config.MinSampleElapsedMs
		o.lowLatencyMinBytes = config.MinSampleBytes
		return nil
	}
}

// pendingEvent is a listener notification computed under an algorithm's lock
// and delivered after it is released.
type pendingEvent struct {
	estimate bool // OnBandwidthEstimate when true, OnBandwidthSample otherwise
	value    int64
}

type pendingEvents []pendingEvent

func (p *pendingEvents) estimate(bitsPerSecond int64) {
	*p = append(*p, pendingEvent{estimate: true, value: bitsPerSecond})
}

func (p *pendingEvents) sample(bytes int64) {
	*p = append(*p, pendingEvent{value: bytes})
}

// flush delivers the events in order and logs listener failures.
func (p pendingEvents) flush(listeners *listenerList[Listener], log logging.LeveledLogger) {
	for _, ev := range p {
		var err error
		if ev.estimate {
			err = listeners.dispatch(func(l Listener) { l.OnBandwidthEstimate(ev.value) })
		} else {
			err = listeners.dispatch(func(l Listener) { l.OnBandwidthSample(ev.value) })
		}
		if err != nil {
			log.Warnf("listener delivery failed: %v", err)
		}
	}
}

// sampleWeight derives a sample weight from a byte count. The square root
// gives large transfers more influence without letting them dominate.
func sampleWeight(bytes int64) int {
	return int(math.Sqrt(float64(bytes)))
}

// bitsPerSecond converts bytes over elapsedMs into a throughput.
func bitsPerSecond(bytes int64, elapsedMs int64) float64 {
	return float64(bytes) * 8000 / float64(elapsedMs)
}
