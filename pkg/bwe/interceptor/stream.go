package interceptor

import (
	"sync/atomic"
	"time"
)

// streamState tracks one bound remote stream.
//
// lastPacketTime and bytes are updated by the stream's reader on every
// packet and read by the interceptor loops, so they are atomic. open and
// retired are guarded by TransferInterceptor.transferMu.
type streamState struct {
	ssrc           uint32
	lastPacketTime atomic.Value // stores time.Time
	bytes          atomic.Uint64

	// open reports whether a network transfer is currently open on the
	// meter for this stream.
	open bool
	// retired is set once the stream is unbound, rebound or the
	// interceptor closed. A retired stream never reopens its transfer.
	retired bool
}

// newStreamState creates a stream state for ssrc whose last packet time is
// now.
func newStreamState(ssrc uint32, now time.Time) *streamState {
	s := &streamState{
		ssrc: ssrc,
	}
	s.lastPacketTime.Store(now)
	return s
}

// recordPacket accounts for one received packet of size bytes.
func (s *streamState) recordPacket(size int, now time.Time) {
	s.lastPacketTime.Store(now)
	s.bytes.Add(uint64(size))
}

// LastPacket returns the arrival time of the most recent packet.
func (s *streamState) LastPacket() time.Time {
	return s.lastPacketTime.Load().(time.Time)
}

// Bytes returns the number of RTP bytes received on the stream.
func (s *streamState) Bytes() uint64 {
	return s.bytes.Load()
}
