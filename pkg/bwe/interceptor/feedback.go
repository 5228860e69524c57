package interceptor

import (
	"time"

	"github.com/pion/rtcp"
)

// feedbackConfig configures REMB scheduling.
type feedbackConfig struct {
	// Interval is the regular REMB send interval.
	Interval time.Duration

	// DecreaseThreshold is the minimum relative decrease of the estimate
	// that triggers an immediate REMB.
	DecreaseThreshold float64

	// SenderSSRC is the SSRC to use in REMB packets.
	SenderSSRC uint32
}

func defaultFeedbackConfig() feedbackConfig {
	return feedbackConfig{
		Interval:          time.Second,
		DecreaseThreshold: 0.03,
	}
}

// feedbackScheduler decides when the meter's estimate is reported to the
// sender. It sends at regular intervals and immediately when the estimate
// drops by DecreaseThreshold or more. Not safe for concurrent use; only the
// feedback loop drives it.
type feedbackScheduler struct {
	config    feedbackConfig
	lastSent  time.Time
	lastValue int64
}

func newFeedbackScheduler(config feedbackConfig) *feedbackScheduler {
	return &feedbackScheduler{config: config}
}

// shouldSend reports whether a REMB carrying estimate is due at now.
func (s *feedbackScheduler) shouldSend(estimate int64, now time.Time) bool {
	if s.lastValue > 0 {
		decrease := float64(s.lastValue-estimate) / float64(s.lastValue)
		if decrease >= s.config.DecreaseThreshold {
			return true
		}
	}
	return s.lastSent.IsZero() || now.Sub(s.lastSent) >= s.config.Interval
}

// maybeBuild returns the REMB to send at now, if one is due, and records
// it as sent.
func (s *feedbackScheduler) maybeBuild(estimate int64, ssrcs []uint32, now time.Time) (*rtcp.ReceiverEstimatedMaximumBitrate, bool) {
	if estimate <= 0 || !s.shouldSend(estimate, now) {
		return nil, false
	}
	s.lastSent = now
	s.lastValue = estimate
	return buildREMB(s.config.SenderSSRC, estimate, ssrcs), true
}

// buildREMB creates a REMB packet. pion/rtcp handles the 6-bit exponent,
// 18-bit mantissa encoding of the bitrate on Marshal.
func buildREMB(senderSSRC uint32, bitrateBps int64, mediaSSRCs []uint32) *rtcp.ReceiverEstimatedMaximumBitrate {
	return &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: senderSSRC,
		Bitrate:    float32(bitrateBps),
		SSRCs:      mediaSSRCs,
	}
}
