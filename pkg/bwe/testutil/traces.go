// Package testutil generates deterministic transfer traces for exercising
// bandwidth algorithms and meters.
//
// Traces are plain event slices replayed against anything with the
// TransferListener method set, advancing a MockClock between events, so the
// package does not import bwe and can be used from its internal tests.
package testutil

import (
	"math/rand/v2"
	"time"

	"go.uber.org/multierr"

	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

// TransferListener mirrors bwe.TransferListener.
type TransferListener interface {
	OnTransferInitializing(isNetwork bool)
	OnTransferStart(isNetwork bool)
	OnBytesTransferred(isNetwork bool, bytes int)
	OnTransferEnd(isNetwork bool) error
}

// EventKind identifies a trace event.
type EventKind int

const (
	// EventIdle only advances the clock.
	EventIdle EventKind = iota
	// EventStart opens a transfer.
	EventStart
	// EventBytes reports a chunk of transferred bytes.
	EventBytes
	// EventEnd closes a transfer.
	EventEnd
)

// Event is one step of a trace. The clock advances by Delay before the event
// is delivered.
type Event struct {
	Kind    EventKind
	Delay   time.Duration
	Bytes   int
	Network bool
}

// ChunkBytes returns the size of a chunk delivered every interval at
// bitrate bits per second.
func ChunkBytes(bitrate int64, interval time.Duration) int {
	return int(bitrate * interval.Milliseconds() / 8000)
}

// SegmentTrace generates one network transfer per rate, back to back. Each
// transfer lasts segment and delivers a chunk every chunkInterval, so its
// throughput is exactly the rate when the chunk size divides evenly.
//
// This mimics a player fetching media segments one after another.
func SegmentTrace(chunkInterval, segment time.Duration, rates ...int64) []Event {
	chunks := int(segment / chunkInterval)
	events := make([]Event, 0, len(rates)*(chunks+2))
	for _, rate := range rates {
		events = append(events, Event{Kind: EventStart, Network: true})
		size := ChunkBytes(rate, chunkInterval)
		for c := 0; c < chunks; c++ {
			events = append(events, Event{Kind: EventBytes, Delay: chunkInterval, Bytes: size, Network: true})
		}
		events = append(events, Event{Kind: EventEnd, Network: true})
	}
	return events
}

// ConstantRateTrace is a single network transfer lasting duration at bitrate.
func ConstantRateTrace(bitrate int64, chunkInterval, duration time.Duration) []Event {
	return SegmentTrace(chunkInterval, duration, bitrate)
}

// Rates returns n copies of rate, for use with SegmentTrace.
func Rates(rate int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = rate
	}
	return out
}

// JitterRates returns n rates drawn uniformly from base×[1−jitter, 1+jitter].
// The same seed always yields the same rates.
func JitterRates(seed uint64, base int64, jitter float64, n int) []int64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]int64, n)
	for i := range out {
		factor := 1 + jitter*(2*rng.Float64()-1)
		out[i] = int64(float64(base) * factor)
	}
	return out
}

// LocalTrace is a transfer served from a local source such as a disk cache.
// Algorithms must ignore it.
func LocalTrace(chunkInterval, duration time.Duration, bytesPerChunk int) []Event {
	chunks := int(duration / chunkInterval)
	events := []Event{{Kind: EventStart}}
	for c := 0; c < chunks; c++ {
		events = append(events, Event{Kind: EventBytes, Delay: chunkInterval, Bytes: bytesPerChunk})
	}
	return append(events, Event{Kind: EventEnd})
}

// Idle is a pause with no transfer activity.
func Idle(d time.Duration) []Event {
	return []Event{{Kind: EventIdle, Delay: d}}
}

// Concat joins traces in order.
func Concat(traces ...[]Event) []Event {
	var n int
	for _, t := range traces {
		n += len(t)
	}
	out := make([]Event, 0, n)
	for _, t := range traces {
		out = append(out, t...)
	}
	return out
}

// Duration returns the total clock advance of a trace.
func Duration(events []Event) time.Duration {
	var d time.Duration
	for _, e := range events {
		d += e.Delay
	}
	return d
}

// Replay delivers events to l, advancing clock before each one. Every
// transfer is announced with OnTransferInitializing before it starts. Errors
// returned by OnTransferEnd are combined; replay does not stop on them.
func Replay(l TransferListener, clock *internal.MockClock, events []Event) error {
	var err error
	for _, e := range events {
		if e.Delay > 0 {
			clock.Advance(e.Delay)
		}
		switch e.Kind {
		case EventStart:
			l.OnTransferInitializing(e.Network)
			l.OnTransferStart(e.Network)
		case EventBytes:
			l.OnBytesTransferred(e.Network, e.Bytes)
		case EventEnd:
			err = multierr.Append(err, l.OnTransferEnd(e.Network))
		}
	}
	return err
}
