package bwe

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

// BandwidthMeter is the facade players query for the current bandwidth
// estimate. It forwards transfer events to one active Algorithm, keeps the
// latest estimate that algorithm published, and reports throttled sample
// events to its EventListeners.
//
// Until the first estimate arrives, BitrateEstimate returns the initial
// estimate for the current network type.
type BandwidthMeter struct {
	// swapMu serialises algorithm swaps. It is always acquired before mu.
	swapMu sync.Mutex

	mu        sync.Mutex
	clock     internal.Clock
	log       logging.LeveledLogger
	provider  AlgorithmProvider
	initial   *InitialBitrateEstimates
	algorithm Algorithm

	networkType              NetworkType
	resetOnNetworkTypeChange bool

	bitrateEstimate             int64
	lastReportedBitrateEstimate int64
	lastSampleDispatch          time.Time

	forwarder      forwardingTransferListener
	eventListeners listenerList[EventListener]
}

// MeterOption configures a BandwidthMeter.
type MeterOption func(*meterOptions) error

type meterOptions struct {
	clock                    internal.Clock
	registry                 *Registry
	provider                 AlgorithmProvider
	loggerFactory            logging.LoggerFactory
	countryCode              string
	networkType              NetworkType
	resetOnNetworkTypeChange bool
	initialBitrate           *int64
	networkTypeBitrates      map[NetworkType]int64
}

// WithClock sets the clock the meter and its default algorithms measure
// time with.
func WithClock(clock internal.Clock) MeterOption {
	return func(o *meterOptions) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidArgument)
		}
		o.clock = clock
		return nil
	}
}

// WithRegistry sets the registry the default provider shares algorithms
// through. Ignored when WithAlgorithmProvider is used.
func WithRegistry(r *Registry) MeterOption {
	return func(o *meterOptions) error {
		o.registry = r
		return nil
	}
}

// WithAlgorithmProvider replaces the default algorithm provider.
func WithAlgorithmProvider(p AlgorithmProvider) MeterOption {
	return func(o *meterOptions) error {
		if p == nil {
			return fmt.Errorf("%w: nil algorithm provider", ErrInvalidArgument)
		}
		o.provider = p
		return nil
	}
}

// WithInitialBitrate sets the initial estimate for every network type.
func WithInitialBitrate(bitrate int64) MeterOption {
	return func(o *meterOptions) error {
		if bitrate <= 0 {
			return fmt.Errorf("%w: initial bitrate must be positive, got %d", ErrInvalidArgument, bitrate)
		}
		o.initialBitrate = &bitrate
		return nil
	}
}

// WithNetworkTypeBitrate sets the initial estimate for one network type.
// It takes precedence over WithInitialBitrate.
func WithNetworkTypeBitrate(networkType NetworkType, bitrate int64) MeterOption {
	return func(o *meterOptions) error {
		if bitrate <= 0 {
			return fmt.Errorf("%w: initial bitrate must be positive, got %d", ErrInvalidArgument, bitrate)
		}
		if o.networkTypeBitrates == nil {
			o.networkTypeBitrates = make(map[NetworkType]int64)
		}
		o.networkTypeBitrates[networkType] = bitrate
		return nil
	}
}

// WithCountryCode seeds the initial estimates from the country's group.
func WithCountryCode(code string) MeterOption {
	return func(o *meterOptions) error {
		o.countryCode = code
		return nil
	}
}

// WithNetworkType sets the network type at construction.
func WithNetworkType(t NetworkType) MeterOption {
	return func(o *meterOptions) error {
		o.networkType = t
		return nil
	}
}

// WithResetOnNetworkTypeChange controls whether network type changes are
// forwarded to the active algorithm. Enabled by default.
func WithResetOnNetworkTypeChange(enabled bool) MeterOption {
	return func(o *meterOptions) error {
		o.resetOnNetworkTypeChange = enabled
		return nil
	}
}

// WithLoggerFactory sets the logger factory for the meter and its default
// algorithms.
func WithLoggerFactory(f logging.LoggerFactory) MeterOption {
	return func(o *meterOptions) error {
		if f == nil {
			return fmt.Errorf("%w: nil logger factory", ErrInvalidArgument)
		}
		o.loggerFactory = f
		return nil
	}
}

// NewBandwidthMeter creates a meter and installs the provider's initial
// algorithm.
func NewBandwidthMeter(opts ...MeterOption) (*BandwidthMeter, error) {
	o := meterOptions{
		clock:                    internal.MonotonicClock{},
		loggerFactory:            logging.NewDefaultLoggerFactory(),
		resetOnNetworkTypeChange: true,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	initial := NewInitialBitrateEstimates(o.countryCode)
	if o.initialBitrate != nil {
		initial.SetAll(*o.initialBitrate)
	}
	for t, bitrate := range o.networkTypeBitrates {
		initial.Set(t, bitrate)
	}

	if o.provider == nil {
		p, err := NewDefaultAlgorithmProvider(o.registry,
			WithAlgorithmClock(o.clock),
			WithAlgorithmLoggerFactory(o.loggerFactory),
		)
		if err != nil {
			return nil, err
		}
		o.provider = p
	}

	m := &BandwidthMeter{
		clock:                    o.clock,
		log:                      o.loggerFactory.NewLogger("bwe_meter"),
		provider:                 o.provider,
		initial:                  initial,
		networkType:              o.networkType,
		resetOnNetworkTypeChange: o.resetOnNetworkTypeChange,
		bitrateEstimate:          initial.ForNetworkType(o.networkType),
	}
	m.log.Debugf("initial estimate %d bps for %s", m.bitrateEstimate, m.networkType)

	alg := o.provider.InitialAlgorithm()
	if alg == nil {
		return nil, fmt.Errorf("%w: provider returned no initial algorithm", ErrIllegalState)
	}
	m.SetAlgorithm(alg)
	return m, nil
}

// BitrateEstimate returns the current estimate in bits per second.
func (m *BandwidthMeter) BitrateEstimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bitrateEstimate
}

// TransferListener returns the listener data sources report transfers to.
// Events are forwarded to whichever algorithm is active when they arrive.
func (m *BandwidthMeter) TransferListener() TransferListener {
	return &m.forwarder
}

// Algorithm returns the active algorithm.
func (m *BandwidthMeter) Algorithm() Algorithm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.algorithm
}

// SetAlgorithm makes alg the active algorithm. The meter stops listening to
// the previous one and starts forwarding transfers to alg. Setting the
// active algorithm again does nothing.
func (m *BandwidthMeter) SetAlgorithm(alg Algorithm) {
	if alg == nil {
		return
	}
	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.mu.Lock()
	old := m.algorithm
	if old == alg {
		m.mu.Unlock()
		return
	}
	m.algorithm = alg
	m.mu.Unlock()

	if old != nil {
		old.RemoveListener(m)
	}
	m.forwarder.set(alg.TransferListener())
	alg.AddListener(m)
	m.log.Debugf("algorithm switched to %T", alg)
}

// OnMediaSourceChanged lets selector pick the algorithm for new media. A nil
// selector or a nil selection keeps the current algorithm.
func (m *BandwidthMeter) OnMediaSourceChanged(selector AlgorithmSelector) {
	if selector == nil {
		return
	}
	if alg := selector.SelectAlgorithm(m.provider); alg != nil {
		m.SetAlgorithm(alg)
	}
}

// SetNetworkType records a connectivity change and, unless disabled with
// WithResetOnNetworkTypeChange, forwards it to the active algorithm.
func (m *BandwidthMeter) SetNetworkType(t NetworkType) {
	m.mu.Lock()
	if m.networkType == t {
		m.mu.Unlock()
		return
	}
	previous := m.networkType
	m.networkType = t
	alg := m.algorithm
	forward := m.resetOnNetworkTypeChange
	m.mu.Unlock()

	m.log.Debugf("network type %s -> %s", previous, t)
	if forward && alg != nil {
		alg.OnNetworkTypeChanged(t)
	}
}

// NetworkType returns the last recorded network type.
func (m *BandwidthMeter) NetworkType() NetworkType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkType
}

// OnBandwidthEstimate stores an estimate published by the active algorithm.
func (m *BandwidthMeter) OnBandwidthEstimate(bitsPerSecond int64) {
	m.mu.Lock()
	m.bitrateEstimate = bitsPerSecond
	m.mu.Unlock()
	m.log.Debugf("estimate %d bps", bitsPerSecond)
}

// OnBandwidthSample reports a sample to the meter's EventListeners together
// with the time since the previous report and the current estimate. Reports
// that carry nothing new within the same millisecond are dropped.
func (m *BandwidthMeter) OnBandwidthSample(bytes int64) {
	m.mu.Lock()
	now := m.clock.Now()
	var elapsedMs int64
	dispatched := !m.lastSampleDispatch.IsZero()
	if dispatched {
		elapsedMs = internal.ElapsedMs(m.lastSampleDispatch, now)
	}
	estimate := m.bitrateEstimate
	if dispatched && elapsedMs <= 0 && bytes == 0 && estimate == m.lastReportedBitrateEstimate {
		m.mu.Unlock()
		return
	}
	m.lastReportedBitrateEstimate = estimate
	m.lastSampleDispatch = now
	m.mu.Unlock()

	err := m.eventListeners.dispatch(func(l EventListener) {
		l.OnBandwidthSample(int(elapsedMs), bytes, estimate)
	})
	if err != nil {
		m.log.Warnf("event listener delivery failed: %v", err)
	}
}

// AddEventListener registers l for sample reports.
func (m *BandwidthMeter) AddEventListener(l EventListener) {
	m.eventListeners.add(l)
}

// RemoveEventListener unregisters l. It reports whether l was registered.
func (m *BandwidthMeter) RemoveEventListener(l EventListener) bool {
	return m.eventListeners.remove(l)
}

// forwardingTransferListener relays transfer events to the active
// algorithm's TransferListener.
type forwardingTransferListener struct {
	mu     sync.RWMutex
	target TransferListener
}

func (f *forwardingTransferListener) set(target TransferListener) {
	f.mu.Lock()
	f.target = target
	f.mu.Unlock()
}

func (f *forwardingTransferListener) current() TransferListener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.target
}

func (f *forwardingTransferListener) OnTransferInitializing(isNetwork bool) {
	if t := f.current(); t != nil {
		t.OnTransferInitializing(isNetwork)
	}
}

func (f *forwardingTransferListener) OnTransferStart(isNetwork bool) {
	if t := f.current(); t != nil {
		t.OnTransferStart(isNetwork)
	}
}

func (f *forwardingTransferListener) OnBytesTransferred(isNetwork bool, bytes int) {
	if t := f.current(); t != nil {
		t.OnBytesTransferred(isNetwork, bytes)
	}
}

func (f *forwardingTransferListener) OnTransferEnd(isNetwork bool) error {
	if t := f.current(); t != nil {
		return t.OnTransferEnd(isNetwork)
	}
	return nil
}
