// Package playback keeps a live stream's playback position a fixed distance
// behind the live edge by adjusting the playback speed.
//
// A RateController is fed the current playback position and the live edge
// position, both in microseconds, and commands a speed multiplier through a
// SpeedHandler. Two controllers are provided:
//
//   - HysteresisController switches between three discrete speeds and only
//     reacts once the latency leaves a drift band around the target.
//   - ProportionalController scales the speed continuously with the latency
//     error and reacts on every update.
package playback

import (
	"errors"
	"math"
)

// TimeUnset marks a position that is not known yet.
const TimeUnset int64 = math.MinInt64 + 1

// ErrInvalidArgument is returned for configuration values out of range.
var ErrInvalidArgument = errors.New("playback: invalid argument")

// SpeedHandler applies a playback speed multiplier.
type SpeedHandler interface {
	SetPlaybackSpeed(speed float32)
}

// SpeedHandlerFunc adapts a function to SpeedHandler.
type SpeedHandlerFunc func(speed float32)

// SetPlaybackSpeed calls f(speed).
func (f SpeedHandlerFunc) SetPlaybackSpeed(speed float32) {
	f(speed)
}

// RateController maps playback and live edge positions to a playback speed.
type RateController interface {
	// OnPositionsUpdated evaluates the latency between positionUs and
	// liveTimeUs and may command a new speed on h. Either position may be
	// TimeUnset.
	OnPositionsUpdated(h SpeedHandler, positionUs, liveTimeUs int64)
}

// latencyErrorMs returns how far the latency is from targetMs. known is
// false when either position is unset.
func latencyErrorMs(positionUs, liveTimeUs, targetMs int64) (errMs int64, known bool) {
	if positionUs == TimeUnset || liveTimeUs == TimeUnset {
		return 0, false
	}
	return (liveTimeUs-positionUs)/1000 - targetMs, true
}
