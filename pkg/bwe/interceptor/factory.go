package interceptor

import (
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

const (
	defaultSampleInterval = 500 * time.Millisecond
	defaultStreamTimeout  = 2 * time.Second
)

// FactoryOption configures the TransferInterceptorFactory.
type FactoryOption func(*TransferInterceptorFactory) error

// TransferInterceptorFactory creates a TransferInterceptor for each
// PeerConnection. All interceptors report to the same meter, so its
// estimate covers the traffic of every connection.
type TransferInterceptorFactory struct {
	meter            Meter
	sampleInterval   time.Duration
	feedbackInterval time.Duration
	streamTimeout    time.Duration
	senderSSRC       uint32
	onREMB           func(bitrate float32, ssrcs []uint32)
	clock            internal.Clock
	loggerFactory    logging.LoggerFactory
}

// WithSampleInterval sets how often open transfers are cycled so the meter
// produces samples.
// Default: 500 ms
func WithSampleInterval(interval time.Duration) FactoryOption {
	return func(f *TransferInterceptorFactory) error {
		if interval <= 0 {
			return errors.New("sample interval must be positive")
		}
		f.sampleInterval = interval
		return nil
	}
}

// WithFeedbackInterval sets how often REMB packets are sent.
// Default: 1 second
func WithFeedbackInterval(interval time.Duration) FactoryOption {
	return func(f *TransferInterceptorFactory) error {
		if interval <= 0 {
			return errors.New("feedback interval must be positive")
		}
		f.feedbackInterval = interval
		return nil
	}
}

// WithSenderSSRC sets the sender SSRC for REMB packets.
// Default: 0
func WithSenderSSRC(ssrc uint32) FactoryOption {
	return func(f *TransferInterceptorFactory) error {
		f.senderSSRC = ssrc
		return nil
	}
}

// WithOnREMB sets a callback that is invoked each time a REMB packet is sent.
func WithOnREMB(fn func(bitrate float32, ssrcs []uint32)) FactoryOption {
	return func(f *TransferInterceptorFactory) error {
		f.onREMB = fn
		return nil
	}
}

// WithStreamTimeout sets how long a silent stream is kept.
// Default: 2 seconds
func WithStreamTimeout(timeout time.Duration) FactoryOption {
	return func(f *TransferInterceptorFactory) error {
		if timeout <= 0 {
			return errors.New("stream timeout must be positive")
		}
		f.streamTimeout = timeout
		return nil
	}
}

// WithLoggerFactory sets the logger factory for created interceptors.
func WithLoggerFactory(lf logging.LoggerFactory) FactoryOption {
	return func(f *TransferInterceptorFactory) error {
		if lf == nil {
			return errors.New("logger factory must not be nil")
		}
		f.loggerFactory = lf
		return nil
	}
}

// NewTransferInterceptorFactory creates a factory whose interceptors report
// to meter.
//
// Example:
//
//	meter, _ := bwe.NewBandwidthMeter()
//	factory, err := NewTransferInterceptorFactory(meter,
//	    WithFeedbackInterval(500*time.Millisecond),
//	)
//	if err != nil {
//	    return err
//	}
//	registry.Add(factory)
func NewTransferInterceptorFactory(meter Meter, opts ...FactoryOption) (*TransferInterceptorFactory, error) {
	if meter == nil {
		return nil, errors.New("meter must not be nil")
	}
	f := &TransferInterceptorFactory{
		meter:            meter,
		sampleInterval:   defaultSampleInterval,
		feedbackInterval: time.Second,
		streamTimeout:    defaultStreamTimeout,
		clock:            internal.MonotonicClock{},
		loggerFactory:    logging.NewDefaultLoggerFactory(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewInterceptor creates a TransferInterceptor for a PeerConnection.
func (f *TransferInterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	opts := []InterceptorOption{
		WithInterceptorSampleInterval(f.sampleInterval),
		WithInterceptorFeedbackInterval(f.feedbackInterval),
		WithInterceptorStreamTimeout(f.streamTimeout),
		WithInterceptorSenderSSRC(f.senderSSRC),
		WithInterceptorClock(f.clock),
		WithInterceptorLoggerFactory(f.loggerFactory),
	}
	if f.onREMB != nil {
		opts = append(opts, WithInterceptorOnREMB(f.onREMB))
	}
	return NewTransferInterceptor(f.meter, opts...), nil
}
