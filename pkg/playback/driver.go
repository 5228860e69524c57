package playback

import (
	"context"
	"fmt"
	"time"
)

// PositionSource reports the player's current position and the live edge,
// in microseconds. Either may return TimeUnset.
type PositionSource interface {
	PositionUs() int64
	LiveEdgePositionUs() int64
}

// DefaultDriverInterval is how often a Driver samples its source.
const DefaultDriverInterval = 100 * time.Millisecond

// Driver periodically samples a PositionSource and feeds the positions to a
// RateController.
type Driver struct {
	source     PositionSource
	controller RateController
	handler    SpeedHandler
	interval   time.Duration
}

// NewDriver creates a driver sampling source every interval. A zero
// interval selects DefaultDriverInterval.
func NewDriver(source PositionSource, controller RateController, handler SpeedHandler, interval time.Duration) (*Driver, error) {
	if source == nil || controller == nil || handler == nil {
		return nil, fmt.Errorf("%w: nil driver dependency", ErrInvalidArgument)
	}
	if interval < 0 {
		return nil, fmt.Errorf("%w: negative driver interval %v", ErrInvalidArgument, interval)
	}
	if interval == 0 {
		interval = DefaultDriverInterval
	}
	return &Driver{
		source:     source,
		controller: controller,
		handler:    handler,
		interval:   interval,
	}, nil
}

// Tick samples the source once and updates the controller.
func (d *Driver) Tick() {
	d.controller.OnPositionsUpdated(d.handler, d.source.PositionUs(), d.source.LiveEdgePositionUs())
}

// Run ticks immediately and then every interval until ctx is done. It
// returns ctx.Err().
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick()
		}
	}
}
