package playback

import (
	"math"

	"github.com/pion/logging"
)

// ProportionalController scales the playback speed continuously with the
// latency error:
//
//	severity = clamp(err / MaxDriftMs, -1, 1)
//	speed    = CatchupPlaybackRate ^ severity
//
// so speed is 1 on target and reaches the catch-up rate (or its inverse)
// once the error reaches MaxDriftMs. It keeps no state and commands a speed
// on every update. With unset positions it commands 1.
type ProportionalController struct {
	config Config
	log    logging.LeveledLogger
}

// NewProportionalController creates a proportional controller. Unset
// options take their values from DefaultProportionalConfig.
func NewProportionalController(opts ...Option) (*ProportionalController, error) {
	o, err := applyOptions(DefaultProportionalConfig(), opts)
	if err != nil {
		return nil, err
	}
	return &ProportionalController{
		config: o.config,
		log:    o.loggerFactory.NewLogger("playback"),
	}, nil
}

// OnPositionsUpdated commands the speed for the current latency error.
func (c *ProportionalController) OnPositionsUpdated(h SpeedHandler, positionUs, liveTimeUs int64) {
	errMs, known := latencyErrorMs(positionUs, liveTimeUs, c.config.TargetLatencyMs)
	if !known {
		h.SetPlaybackSpeed(1)
		return
	}
	speed := ProportionalSpeed(errMs, c.config.MaxDriftMs, c.config.CatchupPlaybackRate)
	c.log.Tracef("latency error %d ms: speed %.3f", errMs, speed)
	h.SetPlaybackSpeed(speed)
}

// Config returns the controller's configuration.
func (c *ProportionalController) Config() Config {
	return c.config
}

// ProportionalSpeed returns catchupRate raised to the clamped severity of
// errMs. A zero maxDriftMs uses the sign of errMs as severity.
func ProportionalSpeed(errMs, maxDriftMs int64, catchupRate float32) float32 {
	var severity float64
	if maxDriftMs == 0 {
		switch {
		case errMs > 0:
			severity = 1
		case errMs < 0:
			severity = -1
		}
	} else {
		severity = max(-1, min(1, float64(errMs)/float64(maxDriftMs)))
	}
	return float32(math.Pow(float64(catchupRate), severity))
}
