package interceptor

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/livebwe/pkg/bwe"
	"github.com/thesyncim/livebwe/pkg/bwe/internal"
)

// makeRTP creates a marshaled RTP packet with a payload of payloadSize bytes.
func makeRTP(ssrc uint32, seq uint16, payloadSize int) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      12345678,
			SSRC:           ssrc,
		},
		Payload: make([]byte, payloadSize),
	}
	data, _ := pkt.Marshal()
	return data
}

// mockRTPReader is a test reader that returns pre-defined packets.
type mockRTPReader struct {
	mu      sync.Mutex
	packets [][]byte
	index   int
}

func (m *mockRTPReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index >= len(m.packets) {
		return 0, nil, nil
	}
	pkt := m.packets[m.index]
	m.index++
	n := copy(b, pkt)
	return n, a, nil
}

// mockRTCPWriter is a test RTCPWriter that captures written packets.
type mockRTCPWriter struct {
	mu      sync.Mutex
	packets []rtcp.Packet
}

func (m *mockRTCPWriter) Write(pkts []rtcp.Packet, _ interceptor.Attributes) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, pkts...)
	return len(pkts), nil
}

func (m *mockRTCPWriter) rembs() []*rtcp.ReceiverEstimatedMaximumBitrate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*rtcp.ReceiverEstimatedMaximumBitrate
	for _, p := range m.packets {
		if remb, ok := p.(*rtcp.ReceiverEstimatedMaximumBitrate); ok {
			out = append(out, remb)
		}
	}
	return out
}

// fakeMeter records transfer events and serves a settable estimate.
type fakeMeter struct {
	mu       sync.Mutex
	estimate int64
	open     int
	starts   int
	ends     int
	bytes    int
}

func (m *fakeMeter) TransferListener() bwe.TransferListener { return m }

func (m *fakeMeter) BitrateEstimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimate
}

func (m *fakeMeter) setEstimate(v int64) {
	m.mu.Lock()
	m.estimate = v
	m.mu.Unlock()
}

func (m *fakeMeter) OnTransferInitializing(bool) {}

func (m *fakeMeter) OnTransferStart(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open++
	m.starts++
}

func (m *fakeMeter) OnBytesTransferred(_ bool, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func (m *fakeMeter) OnTransferEnd(bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == 0 {
		return bwe.ErrIllegalState
	}
	m.open--
	m.ends++
	return nil
}

func (m *fakeMeter) snapshot() (open, starts, ends, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, m.starts, m.ends, m.bytes
}

func TestNewTransferInterceptor_Defaults(t *testing.T) {
	i := NewTransferInterceptor(&fakeMeter{})
	require.NotNil(t, i)
	assert.Equal(t, defaultSampleInterval, i.sampleInterval)
	assert.Equal(t, time.Second, i.feedbackInterval)
	assert.Equal(t, time.Second, i.feedback.config.Interval)
	assert.Equal(t, defaultStreamTimeout, i.streamTimeout)
	assert.NotNil(t, i.closed)
}

func TestNewTransferInterceptor_Options(t *testing.T) {
	i := NewTransferInterceptor(&fakeMeter{},
		WithInterceptorFeedbackInterval(250*time.Millisecond),
		WithInterceptorSenderSSRC(0x12345678),
		WithInterceptorStreamTimeout(time.Minute),
	)
	assert.Equal(t, 250*time.Millisecond, i.feedback.config.Interval)
	assert.Equal(t, uint32(0x12345678), i.feedback.config.SenderSSRC)
	assert.Equal(t, time.Minute, i.streamTimeout)
}

func TestNewTransferInterceptor_NilLoggerFactory(t *testing.T) {
	var i *TransferInterceptor
	require.NotPanics(t, func() {
		i = NewTransferInterceptor(&fakeMeter{}, WithInterceptorLoggerFactory(nil))
	})
	assert.NotNil(t, i.log)
}

func TestBindRemoteStream_ReportsBytes(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	packets := [][]byte{makeRTP(1, 1, 100), makeRTP(1, 2, 200)}
	reader := i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 1}, &mockRTPReader{packets: packets})

	open, starts, _, _ := meter.snapshot()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, starts)

	buf := make([]byte, 1500)
	for range packets {
		_, _, err := reader.Read(buf, nil)
		require.NoError(t, err)
	}

	_, _, _, bytes := meter.snapshot()
	assert.Equal(t, len(packets[0])+len(packets[1]), bytes)

	value, ok := i.streams.Load(uint32(1))
	require.True(t, ok)
	assert.Equal(t, uint64(bytes), value.(*streamState).Bytes())
}

func TestBindRemoteStream_SkipsInvalidRTP(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	reader := i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 1}, &mockRTPReader{packets: [][]byte{{0x01, 0x02}}})
	buf := make([]byte, 1500)
	n, _, err := reader.Read(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the read itself is passed through")

	_, _, _, bytes := meter.snapshot()
	assert.Zero(t, bytes)
}

func TestUnbindRemoteStream_EndsTransfer(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	info := &interceptor.StreamInfo{SSRC: 7}
	i.BindRemoteStream(info, &mockRTPReader{})
	i.UnbindRemoteStream(info)
	i.UnbindRemoteStream(info)

	open, _, ends, _ := meter.snapshot()
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, ends, "unbinding twice ends the transfer once")
	_, ok := i.streams.Load(uint32(7))
	assert.False(t, ok)
}

func TestBindRemoteStream_RebindEndsPrevious(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	info := &interceptor.StreamInfo{SSRC: 7}
	i.BindRemoteStream(info, &mockRTPReader{})
	i.BindRemoteStream(info, &mockRTPReader{})

	open, starts, ends, _ := meter.snapshot()
	assert.Equal(t, 1, open)
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, ends)
}

func TestCycleTransfers_EndsThenRestartsAll(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	for ssrc := uint32(1); ssrc <= 3; ssrc++ {
		i.BindRemoteStream(&interceptor.StreamInfo{SSRC: ssrc}, &mockRTPReader{})
	}

	i.cycleTransfers()

	open, starts, ends, _ := meter.snapshot()
	assert.Equal(t, 3, open)
	assert.Equal(t, 6, starts)
	assert.Equal(t, 3, ends)
}

func TestStreamTimeout_RemovesInactiveStreams(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter,
		WithInterceptorClock(clock),
		WithInterceptorSampleInterval(time.Hour),
	)
	defer i.Close()

	i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 1}, &mockRTPReader{})
	active := i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 2}, &mockRTPReader{packets: [][]byte{makeRTP(2, 1, 10)}})

	clock.Advance(1500 * time.Millisecond)
	_, _, err := active.Read(make([]byte, 1500), nil)
	require.NoError(t, err)
	clock.Advance(time.Second)

	i.cleanupInactiveStreams(clock.Now())

	_, ok := i.streams.Load(uint32(1))
	assert.False(t, ok, "silent stream should be removed")
	_, ok = i.streams.Load(uint32(2))
	assert.True(t, ok, "active stream should be kept")

	open, _, ends, _ := meter.snapshot()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, ends)
}

func TestStreamTimeout_ResumesOnNewPacket(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter,
		WithInterceptorClock(clock),
		WithInterceptorSampleInterval(time.Hour),
	)
	defer i.Close()

	packet := makeRTP(1, 1, 100)
	reader := i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 1}, &mockRTPReader{packets: [][]byte{packet}})

	clock.Advance(3 * time.Second)
	i.cleanupInactiveStreams(clock.Now())

	open, _, ends, _ := meter.snapshot()
	require.Equal(t, 0, open)
	require.Equal(t, 1, ends)
	_, ok := i.streams.Load(uint32(1))
	require.False(t, ok)

	_, _, err := reader.Read(make([]byte, 1500), nil)
	require.NoError(t, err)

	open, starts, _, bytes := meter.snapshot()
	assert.Equal(t, 1, open, "bytes must land inside an open transfer")
	assert.Equal(t, 2, starts)
	assert.Equal(t, len(packet), bytes)
	value, ok := i.streams.Load(uint32(1))
	require.True(t, ok, "stream is tracked again")
	assert.Equal(t, uint64(len(packet)), value.(*streamState).Bytes())
	assert.Equal(t, []uint32{1}, i.ssrcs())

	// The resumed transfer is ended by Close like any other.
	require.NoError(t, i.Close())
	open, _, _, _ = meter.snapshot()
	assert.Equal(t, 0, open)
}

func TestUnbindRemoteStream_IgnoresLaterReads(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	info := &interceptor.StreamInfo{SSRC: 3}
	reader := i.BindRemoteStream(info, &mockRTPReader{packets: [][]byte{makeRTP(3, 1, 50)}})
	i.UnbindRemoteStream(info)

	n, _, err := reader.Read(make([]byte, 1500), nil)
	require.NoError(t, err)
	assert.Positive(t, n)

	open, starts, _, bytes := meter.snapshot()
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, starts)
	assert.Zero(t, bytes)
	_, ok := i.streams.Load(uint32(3))
	assert.False(t, ok)
}

func TestBindRemoteStream_StaleReaderAfterRebind(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Hour))
	defer i.Close()

	info := &interceptor.StreamInfo{SSRC: 9}
	stale := i.BindRemoteStream(info, &mockRTPReader{packets: [][]byte{makeRTP(9, 1, 40)}})
	i.BindRemoteStream(info, &mockRTPReader{})

	_, _, err := stale.Read(make([]byte, 1500), nil)
	require.NoError(t, err)

	open, starts, _, bytes := meter.snapshot()
	assert.Equal(t, 1, open)
	assert.Equal(t, 2, starts)
	assert.Zero(t, bytes)
}

func TestMaybeSendREMB(t *testing.T) {
	meter := &fakeMeter{estimate: 2_000_000}
	var callbackBitrate float32
	i := NewTransferInterceptor(meter,
		WithInterceptorSampleInterval(time.Hour),
		WithInterceptorFeedbackInterval(time.Hour),
		WithInterceptorOnREMB(func(bitrate float32, _ []uint32) { callbackBitrate = bitrate }),
	)
	defer i.Close()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	i.maybeSendREMB(t0) // no writer bound yet

	writer := &mockRTCPWriter{}
	i.mu.Lock()
	i.rtcpWriter = writer
	i.mu.Unlock()
	i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 0x22}, &mockRTPReader{})
	i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 0x11}, &mockRTPReader{})

	i.maybeSendREMB(t0)
	i.maybeSendREMB(t0.Add(100 * time.Millisecond)) // not due
	meter.setEstimate(1_000_000)
	i.maybeSendREMB(t0.Add(200 * time.Millisecond)) // halved: immediate

	rembs := writer.rembs()
	require.Len(t, rembs, 2)
	assert.Equal(t, float32(2_000_000), rembs[0].Bitrate)
	assert.Equal(t, []uint32{0x11, 0x22}, rembs[0].SSRCs)
	assert.Equal(t, float32(1_000_000), rembs[1].Bitrate)
	assert.Equal(t, float32(1_000_000), callbackBitrate)
}

func TestBindRTCPWriter_StartsFeedbackLoop(t *testing.T) {
	meter := &fakeMeter{estimate: 500_000}
	i := NewTransferInterceptor(meter,
		WithInterceptorSampleInterval(10*time.Millisecond),
		WithInterceptorFeedbackInterval(20*time.Millisecond),
	)
	defer i.Close()

	writer := &mockRTCPWriter{}
	assert.Equal(t, writer, i.BindRTCPWriter(writer), "BindRTCPWriter should return the same writer")

	require.Eventually(t, func() bool { return len(writer.rembs()) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestClose_EndsOpenTransfers(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(5*time.Millisecond))
	i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 1}, &mockRTPReader{})
	i.BindRemoteStream(&interceptor.StreamInfo{SSRC: 2}, &mockRTPReader{})
	i.BindRTCPWriter(&mockRTCPWriter{})

	done := make(chan error, 1)
	go func() { done <- i.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	open, _, _, _ := meter.snapshot()
	assert.Equal(t, 0, open)
	assert.NoError(t, i.Close(), "Close is idempotent")
}

func TestConcurrentReadsAndCycles(t *testing.T) {
	meter := &fakeMeter{}
	i := NewTransferInterceptor(meter, WithInterceptorSampleInterval(time.Millisecond))
	defer i.Close()

	var wg sync.WaitGroup
	for ssrc := uint32(1); ssrc <= 4; ssrc++ {
		packets := make([][]byte, 200)
		for j := range packets {
			packets[j] = makeRTP(ssrc, uint16(j), 50)
		}
		reader := i.BindRemoteStream(&interceptor.StreamInfo{SSRC: ssrc}, &mockRTPReader{packets: packets})
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 1500)
			for range packets {
				_, _, _ = reader.Read(buf, nil)
			}
		}()
	}
	wg.Wait()

	_, _, _, bytes := meter.snapshot()
	assert.Equal(t, 4*200*len(makeRTP(1, 0, 50)), bytes)
}
