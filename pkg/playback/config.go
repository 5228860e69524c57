package playback

import (
	"fmt"

	"github.com/pion/logging"
)

// Controller kinds understood by NewController.
const (
	KindHysteresis   = "hysteresis"
	KindProportional = "proportional"
)

// Config configures a RateController.
type Config struct {
	// CatchupPlaybackRate is the speed used to catch up with the live edge.
	// Its inverse is used to fall back. Must be greater than 1.
	// Default: 1.3
	CatchupPlaybackRate float32

	// MaxDriftMs is the latency error tolerated before reacting
	// (hysteresis) or at which the full catch-up rate is applied
	// (proportional).
	// Default: 50 ms (hysteresis), 500 ms (proportional)
	MaxDriftMs int64

	// TargetLatencyMs is the desired distance behind the live edge.
	// Default: 3000 ms
	TargetLatencyMs int64
}

// DefaultHysteresisConfig returns the default hysteresis configuration.
func DefaultHysteresisConfig() Config {
	return Config{
		CatchupPlaybackRate: 1.3,
		MaxDriftMs:          50,
		TargetLatencyMs:     3000,
	}
}

// DefaultProportionalConfig returns the default proportional configuration.
func DefaultProportionalConfig() Config {
	return Config{
		CatchupPlaybackRate: 1.3,
		MaxDriftMs:          500,
		TargetLatencyMs:     3000,
	}
}

// Validate returns ErrInvalidArgument for out-of-range values.
func (c Config) Validate() error {
	if !(c.CatchupPlaybackRate > 1) {
		return fmt.Errorf("%w: catch-up playback rate must be greater than 1, got %v", ErrInvalidArgument, c.CatchupPlaybackRate)
	}
	if c.MaxDriftMs < 0 {
		return fmt.Errorf("%w: max drift must not be negative, got %d ms", ErrInvalidArgument, c.MaxDriftMs)
	}
	if c.TargetLatencyMs < 0 {
		return fmt.Errorf("%w: target latency must not be negative, got %d ms", ErrInvalidArgument, c.TargetLatencyMs)
	}
	return nil
}

// Option adjusts a controller's configuration.
type Option func(*options) error

type options struct {
	config        Config
	loggerFactory logging.LoggerFactory
}

// WithCatchupPlaybackRate sets Config.CatchupPlaybackRate.
func WithCatchupPlaybackRate(rate float32) Option {
	return func(o *options) error {
		o.config.CatchupPlaybackRate = rate
		return nil
	}
}

// WithMaxDrift sets Config.MaxDriftMs.
func WithMaxDrift(ms int64) Option {
	return func(o *options) error {
		o.config.MaxDriftMs = ms
		return nil
	}
}

// WithTargetLatency sets Config.TargetLatencyMs.
func WithTargetLatency(ms int64) Option {
	return func(o *options) error {
		o.config.TargetLatencyMs = ms
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(c Config) Option {
	return func(o *options) error {
		o.config = c
		return nil
	}
}

// WithLoggerFactory sets the logger factory used for speed changes.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *options) error {
		if f == nil {
			return fmt.Errorf("%w: nil logger factory", ErrInvalidArgument)
		}
		o.loggerFactory = f
		return nil
	}
}

func applyOptions(defaults Config, opts []Option) (options, error) {
	o := options{
		config:        defaults,
		loggerFactory: logging.NewDefaultLoggerFactory(),
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	if err := o.config.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

// NewController creates the controller of the given kind.
func NewController(kind string, opts ...Option) (RateController, error) {
	switch kind {
	case KindHysteresis:
		c, err := NewHysteresisController(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindProportional:
		c, err := NewProportionalController(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown controller kind %q", ErrInvalidArgument, kind)
	}
}
