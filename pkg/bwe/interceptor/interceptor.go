package interceptor

import (
	"slices"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/multierr"

	"github.com/thesyncim/livebwe/pkg/bwe"
	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

// Meter is the part of bwe.BandwidthMeter the interceptor uses.
type Meter interface {
	TransferListener() bwe.TransferListener
	BitrateEstimate() int64
}

// TransferInterceptor is a Pion interceptor that reports every bound remote
// stream to a Meter. A stream is an open network transfer from bind to
// unbind; each successfully read RTP packet reports its size.
//
// Windowed algorithms only produce samples when a transfer ends, so every
// sample interval all open transfers are ended and immediately restarted.
//
// Usage:
//
//	meter, _ := bwe.NewBandwidthMeter()
//	i := NewTransferInterceptor(meter)
//	// Add to interceptor registry...
type TransferInterceptor struct {
	interceptor.NoOp

	meter    Meter
	listener bwe.TransferListener
	clock    internal.Clock
	log      logging.LeveledLogger
	feedback *feedbackScheduler
	streams  sync.Map // SSRC (uint32) -> *streamState

	// transferMu serialises transfer start/end calls so that each stream's
	// open flag matches what the meter has seen.
	transferMu sync.Mutex

	mu         sync.Mutex
	rtcpWriter interceptor.RTCPWriter
	onREMB     func(bitrate float32, ssrcs []uint32)

	sampleInterval   time.Duration
	feedbackInterval time.Duration
	streamTimeout    time.Duration

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startOnce sync.Once
}

// InterceptorOption is a functional option for configuring a
// TransferInterceptor.
type InterceptorOption func(*TransferInterceptor)

// WithInterceptorSampleInterval sets how often open transfers are cycled.
func WithInterceptorSampleInterval(d time.Duration) InterceptorOption {
	return func(i *TransferInterceptor) {
		i.sampleInterval = d
	}
}

// WithInterceptorFeedbackInterval sets the regular REMB interval.
func WithInterceptorFeedbackInterval(d time.Duration) InterceptorOption {
	return func(i *TransferInterceptor) {
		i.feedbackInterval = d
		i.feedback.config.Interval = d
	}
}

// WithInterceptorSenderSSRC sets the sender SSRC used in REMB packets.
func WithInterceptorSenderSSRC(ssrc uint32) InterceptorOption {
	return func(i *TransferInterceptor) {
		i.feedback.config.SenderSSRC = ssrc
	}
}

// WithInterceptorOnREMB sets a callback invoked after each REMB is written.
func WithInterceptorOnREMB(fn func(bitrate float32, ssrcs []uint32)) InterceptorOption {
	return func(i *TransferInterceptor) {
		i.onREMB = fn
	}
}

// WithInterceptorStreamTimeout sets how long a stream may stay silent
// before its transfer is ended and the stream forgotten.
func WithInterceptorStreamTimeout(d time.Duration) InterceptorOption {
	return func(i *TransferInterceptor) {
		i.streamTimeout = d
	}
}

// WithInterceptorClock sets the clock used for stream activity and REMB
// timing.
func WithInterceptorClock(c internal.Clock) InterceptorOption {
	return func(i *TransferInterceptor) {
		i.clock = c
	}
}

// WithInterceptorLoggerFactory sets the logger factory. A nil factory keeps
// the default one.
func WithInterceptorLoggerFactory(f logging.LoggerFactory) InterceptorOption {
	return func(i *TransferInterceptor) {
		if f != nil {
			i.log = f.NewLogger("bwe_interceptor")
		}
	}
}

// NewTransferInterceptor creates an interceptor reporting to meter.
//
// Defaults: 500 ms sample interval, 1 s REMB interval, 2 s stream timeout.
func NewTransferInterceptor(meter Meter, opts ...InterceptorOption) *TransferInterceptor {
	i := &TransferInterceptor{
		meter:            meter,
		listener:         meter.TransferListener(),
		clock:            internal.MonotonicClock{},
		log:              logging.NewDefaultLoggerFactory().NewLogger("bwe_interceptor"),
		feedback:         newFeedbackScheduler(defaultFeedbackConfig()),
		sampleInterval:   defaultSampleInterval,
		feedbackInterval: time.Second,
		streamTimeout:    defaultStreamTimeout,
		closed:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Close stops the interceptor's loops and ends every open transfer.
func (i *TransferInterceptor) Close() error {
	i.closeOnce.Do(func() {
		close(i.closed)
	})
	i.wg.Wait()

	// Holding transferMu across the sweep keeps a concurrent resume from
	// storing a stream behind it.
	i.transferMu.Lock()
	defer i.transferMu.Unlock()

	var errs error
	i.streams.Range(func(key, value any) bool {
		i.streams.Delete(key)
		state := value.(*streamState)
		state.retired = true
		errs = multierr.Append(errs, i.endTransferLocked(state))
		return true
	})
	return errs
}

// BindRTCPWriter captures the writer for REMB packets and starts the
// feedback loop.
func (i *TransferInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	i.mu.Lock()
	i.rtcpWriter = writer
	i.mu.Unlock()

	i.wg.Add(1)
	go i.feedbackLoop()

	return writer
}

// BindRemoteStream opens a network transfer for the stream and wraps its
// reader so that every RTP packet is reported to the meter.
func (i *TransferInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go i.sampleLoop()
	})

	state := newStreamState(info.SSRC, i.clock.Now())
	if previous, loaded := i.streams.Swap(info.SSRC, state); loaded {
		_ = i.retireTransfer(previous.(*streamState))
	}
	i.listener.OnTransferInitializing(true)
	i.startTransfer(state)
	i.log.Debugf("bound stream %d", info.SSRC)

	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTP(b[:n], state)
		}
		return n, a, err
	})
}

// UnbindRemoteStream ends the stream's transfer.
func (i *TransferInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	if value, ok := i.streams.LoadAndDelete(info.SSRC); ok {
		if err := i.retireTransfer(value.(*streamState)); err != nil {
			i.log.Warnf("ending stream %d: %v", info.SSRC, err)
		}
	}
}

// processRTP reports a packet to the meter. Reads that do not hold a valid
// RTP header are not counted, nor are packets read after the stream was
// retired. A stream forgotten for inactivity is tracked again and its
// transfer reopened before its bytes are reported.
func (i *TransferInterceptor) processRTP(raw []byte, state *streamState) {
	var header rtp.Header
	if _, err := header.Unmarshal(raw); err != nil {
		return
	}
	now := i.clock.Now()

	i.transferMu.Lock()
	defer i.transferMu.Unlock()
	if !i.resumeTransferLocked(state) {
		return
	}
	state.recordPacket(len(raw), now)
	i.listener.OnBytesTransferred(true, len(raw))
}

// resumeTransferLocked makes sure state is tracked with an open transfer. It
// reports false when the stream was retired or another stream took its SSRC.
func (i *TransferInterceptor) resumeTransferLocked(state *streamState) bool {
	if state.open {
		return true
	}
	if state.retired {
		return false
	}
	select {
	case <-i.closed:
		return false
	default:
	}
	if actual, loaded := i.streams.LoadOrStore(state.ssrc, state); loaded && actual != state {
		return false
	}
	state.open = true
	i.listener.OnTransferInitializing(true)
	i.listener.OnTransferStart(true)
	i.log.Debugf("stream %d resumed", state.ssrc)
	return true
}

func (i *TransferInterceptor) startTransfer(state *streamState) {
	i.transferMu.Lock()
	defer i.transferMu.Unlock()
	if !state.open {
		state.open = true
		i.listener.OnTransferStart(true)
	}
}

// retireTransfer ends the stream's transfer for good.
func (i *TransferInterceptor) retireTransfer(state *streamState) error {
	i.transferMu.Lock()
	defer i.transferMu.Unlock()
	state.retired = true
	return i.endTransferLocked(state)
}

func (i *TransferInterceptor) endTransferLocked(state *streamState) error {
	if !state.open {
		return nil
	}
	state.open = false
	return i.listener.OnTransferEnd(true)
}

// sampleLoop cycles open transfers and drops idle streams.
func (i *TransferInterceptor) sampleLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(i.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case <-ticker.C:
			i.cleanupInactiveStreams(i.clock.Now())
			i.cycleTransfers()
		}
	}
}

// cycleTransfers ends every open transfer, then restarts them all. Ending
// them all first lets the meter close one sampling window covering every
// stream.
func (i *TransferInterceptor) cycleTransfers() {
	i.transferMu.Lock()
	defer i.transferMu.Unlock()

	var open []*streamState
	i.streams.Range(func(_, value any) bool {
		if state := value.(*streamState); state.open {
			open = append(open, state)
		}
		return true
	})
	for _, state := range open {
		if err := i.listener.OnTransferEnd(true); err != nil {
			i.log.Warnf("ending transfer for stream %d: %v", state.ssrc, err)
		}
	}
	for range open {
		i.listener.OnTransferStart(true)
	}
}

// cleanupInactiveStreams ends and forgets streams that received nothing for
// longer than the stream timeout. A forgotten stream that receives a packet
// again is picked up by processRTP.
func (i *TransferInterceptor) cleanupInactiveStreams(now time.Time) {
	i.transferMu.Lock()
	defer i.transferMu.Unlock()

	i.streams.Range(func(key, value any) bool {
		state := value.(*streamState)
		if now.Sub(state.LastPacket()) <= i.streamTimeout {
			return true
		}
		if i.streams.CompareAndDelete(key, value) {
			if err := i.endTransferLocked(state); err != nil {
				i.log.Warnf("ending stream %d: %v", state.ssrc, err)
			}
			i.log.Debugf("stream %d timed out", state.ssrc)
		}
		return true
	})
}

// feedbackLoop checks for due REMB packets. It checks at least as often as
// transfers are cycled so that decreases are reported promptly.
func (i *TransferInterceptor) feedbackLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(min(i.sampleInterval, i.feedbackInterval))
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case <-ticker.C:
			i.maybeSendREMB(i.clock.Now())
		}
	}
}

// maybeSendREMB writes a REMB carrying the meter's estimate if one is due.
func (i *TransferInterceptor) maybeSendREMB(now time.Time) {
	i.mu.Lock()
	writer := i.rtcpWriter
	i.mu.Unlock()
	if writer == nil {
		return
	}

	remb, ok := i.feedback.maybeBuild(i.meter.BitrateEstimate(), i.ssrcs(), now)
	if !ok {
		return
	}
	if _, err := writer.Write([]rtcp.Packet{remb}, nil); err != nil {
		i.log.Debugf("writing REMB: %v", err)
		return
	}
	if i.onREMB != nil {
		i.onREMB(remb.Bitrate, remb.SSRCs)
	}
}

// ssrcs returns the bound SSRCs in ascending order.
func (i *TransferInterceptor) ssrcs() []uint32 {
	var out []uint32
	i.streams.Range(func(key, _ any) bool {
		out = append(out, key.(uint32))
		return true
	})
	slices.Sort(out)
	return out
}
