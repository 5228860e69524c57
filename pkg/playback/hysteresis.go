package playback

import (
	"sync"

	"github.com/pion/logging"
)

// LatencyState is the state of the hysteresis controller.
type LatencyState int

const (
	// Inactive plays at normal speed. This is the initial state.
	Inactive LatencyState = iota
	// SpeedingUp plays at the catch-up rate because playback fell too far
	// behind the live edge.
	SpeedingUp
	// SlowingDown plays at the inverse catch-up rate because playback got
	// too close to the live edge.
	SlowingDown
)

// String returns a string representation of the LatencyState.
func (s LatencyState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case SpeedingUp:
		return "SpeedingUp"
	case SlowingDown:
		return "SlowingDown"
	default:
		return "Unknown"
	}
}

// Transition returns the state following state for a latency error and
// whether a speed must be commanded. known is false when a position is
// unset, which always falls back to Inactive.
//
//	State       | err > drift | |err| <= drift | err < -drift | unknown
//	------------+-------------+----------------+--------------+---------
//	Inactive    | SpeedingUp  | (stay, silent) | SlowingDown  | Inactive
//	SpeedingUp  | (stay)      | Inactive       | Inactive     | Inactive
//	SlowingDown | Inactive    | Inactive       | (stay)       | Inactive
//
// Entering a catch-up state requires leaving the drift band; leaving it only
// requires getting back inside, so the speed does not flap at the edge.
func Transition(state LatencyState, errMs int64, known bool, maxDriftMs int64) (LatencyState, bool) {
	if !known {
		return Inactive, true
	}
	switch state {
	case SpeedingUp:
		if errMs <= maxDriftMs {
			return Inactive, true
		}
		return SpeedingUp, true
	case SlowingDown:
		if errMs >= -maxDriftMs {
			return Inactive, true
		}
		return SlowingDown, true
	default:
		switch {
		case errMs > maxDriftMs:
			return SpeedingUp, true
		case errMs < -maxDriftMs:
			return SlowingDown, true
		default:
			return Inactive, false
		}
	}
}

// SpeedFor returns the playback speed commanded in state.
func SpeedFor(state LatencyState, catchupRate float32) float32 {
	switch state {
	case SpeedingUp:
		return catchupRate
	case SlowingDown:
		return 1 / catchupRate
	default:
		return 1
	}
}

// HysteresisController holds playback at normal speed while the latency
// stays within MaxDriftMs of the target, and switches to a fixed catch-up or
// fall-back speed outside of it. See Transition for the state table.
type HysteresisController struct {
	mu     sync.Mutex
	config Config
	state  LatencyState
	log    logging.LeveledLogger
}

// NewHysteresisController creates a controller starting in Inactive.
// Unset options take their values from DefaultHysteresisConfig.
func NewHysteresisController(opts ...Option) (*HysteresisController, error) {
	o, err := applyOptions(DefaultHysteresisConfig(), opts)
	if err != nil {
		return nil, err
	}
	return &HysteresisController{
		config: o.config,
		log:    o.loggerFactory.NewLogger("playback"),
	}, nil
}

// OnPositionsUpdated advances the state machine and commands the speed of
// the resulting state on h, unless the controller stays Inactive with known
// positions.
func (c *HysteresisController) OnPositionsUpdated(h SpeedHandler, positionUs, liveTimeUs int64) {
	errMs, known := latencyErrorMs(positionUs, liveTimeUs, c.config.TargetLatencyMs)

	c.mu.Lock()
	previous := c.state
	next, command := Transition(previous, errMs, known, c.config.MaxDriftMs)
	c.state = next
	c.mu.Unlock()

	if next != previous {
		c.log.Debugf("latency error %d ms: %s -> %s", errMs, previous, next)
	}
	if command {
		h.SetPlaybackSpeed(SpeedFor(next, c.config.CatchupPlaybackRate))
	}
}

// State returns the current state.
func (c *HysteresisController) State() LatencyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset returns the controller to Inactive without commanding a speed.
func (c *HysteresisController) Reset() {
	c.mu.Lock()
	c.state = Inactive
	c.mu.Unlock()
}

// Config returns the controller's configuration.
func (c *HysteresisController) Config() Config {
	return c.config
}
