package mixer

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/soundmesh/sinkmixer/internal/audioctx"
	"github.com/soundmesh/sinkmixer/internal/chunk"
	"github.com/soundmesh/sinkmixer/internal/config"
)

func TestSaturateInt32ClampsOverflow(t *testing.T) {
	require.Equal(t, int32(1<<31-1), saturateInt32(int64(1<<31-1)+1000))
	require.Equal(t, int32(-(1<<31)), saturateInt32(-int64(1<<31)-1000))
	require.Equal(t, int32(42), saturateInt32(42))
}

func TestSaturateInt32PropertyMatchesClamp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int32().Draw(t, "a")
		b := rapid.Int32().Draw(t, "b")
		got := saturateInt32(int64(a) + int64(b))
		want := clampReference(int64(a) + int64(b))
		require.Equal(t, want, got)
	})
}

func clampReference(v int64) int32 {
	if v > int64(1<<31-1) {
		return 1<<31 - 1
	}
	if v < -int64(1<<31) {
		return -(1 << 31)
	}
	return int32(v)
}

func TestDedupSortTruncateCSRCUnder15(t *testing.T) {
	set := map[uint32]bool{5: true, 1: true, 3: true}
	out, truncated := dedupSortTruncateCSRC(set)
	require.Equal(t, []uint32{1, 3, 5}, out)
	require.False(t, truncated)
}

func TestDedupSortTruncateCSRCOver15(t *testing.T) {
	set := make(map[uint32]bool)
	for i := uint32(0); i < 20; i++ {
		set[i] = true
	}
	out, truncated := dedupSortTruncateCSRC(set)
	require.Len(t, out, 15)
	require.True(t, truncated)
	require.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, out)
}

func newTestMixer(t *testing.T, channels, bitDepth, framesPerChunk int) *Mixer {
	t.Helper()
	settings := config.Default()
	settings.UnderrunHoldTimeoutMs = 0
	ctx := audioctx.New(settings, nil)
	cfg := config.SinkConfig{
		SinkID:           "test-sink",
		ProtocolVariant:  config.ProtocolScreamLegacy,
		OutputIP:         "127.0.0.1",
		OutputPort:       40100,
		OutputSampleRate: 48000,
		OutputBitDepth:   bitDepth,
		OutputChannels:   channels,
		FramesPerChunk:   framesPerChunk,
	}
	m, err := New(ctx, cfg)
	require.NoError(t, err)
	return m
}

func TestTickMixesAndSaturatesToZero(t *testing.T) {
	m := newTestMixer(t, 2, 16, 288)
	defer m.primary.Close()

	qa := m.AttachSource("A")
	qb := m.AttachSource("B")
	defer m.sched.DetachSource("A")
	defer m.sched.DetachSource("B")

	n := 288 * 2
	a := make([]int32, n)
	b := make([]int32, n)
	for i := range a {
		a[i] = 1000
		b[i] = -1000
	}
	qa.Push(chunk.ProcessedChunk{Samples: a, Channels: 2, SSRCs: []uint32{111}})
	qb.Push(chunk.ProcessedChunk{Samples: b, Channels: 2, SSRCs: []uint32{222}})

	require.Eventually(t, func() bool {
		return m.sched.Metrics()["A"].Depth == 1 && m.sched.Metrics()["B"].Depth == 1
	}, time.Second, time.Millisecond)

	// tick clears mixBuf after dispatch, so the mix is checked on the
	// Scream datagram the primary sender emits to the test sink's port.
	rx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40100})
	require.NoError(t, err)
	defer rx.Close()

	m.tick(time.Now())

	require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	got, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, 5+n*2, got, "5-byte header plus 16-bit samples")
	for _, v := range buf[5:got] {
		require.EqualValues(t, 0, v)
	}
}

func TestChunkShapeMismatchIsDiscardedAndCounted(t *testing.T) {
	m := newTestMixer(t, 2, 16, 288)
	defer m.primary.Close()

	qa := m.AttachSource("A")
	defer m.sched.DetachSource("A")
	qa.Push(chunk.ProcessedChunk{Samples: make([]int32, 10), Channels: 2})

	require.Eventually(t, func() bool {
		return m.sched.Metrics()["A"].Depth == 1
	}, time.Second, time.Millisecond)

	m.tick(time.Now())
	require.EqualValues(t, 1, m.chunkMismatches)
	require.False(t, m.active["A"])
}

func TestUnderrunHoldEmitsSilenceThenStops(t *testing.T) {
	settings := config.Default()
	settings.UnderrunHoldTimeoutMs = 50
	ctx := audioctx.New(settings, nil)
	cfg := config.SinkConfig{
		SinkID: "hold-sink", ProtocolVariant: config.ProtocolScreamLegacy,
		OutputIP: "127.0.0.1", OutputPort: 40101,
		OutputSampleRate: 48000, OutputBitDepth: 16, OutputChannels: 2, FramesPerChunk: 288,
	}
	m, err := New(ctx, cfg)
	require.NoError(t, err)
	defer m.primary.Close()

	qa := m.AttachSource("A")
	defer m.sched.DetachSource("A")
	qa.Push(chunk.ProcessedChunk{Samples: make([]int32, 576), Channels: 2})
	require.Eventually(t, func() bool { return m.sched.Metrics()["A"].Depth == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	m.tick(start)
	require.True(t, m.wasActiveLast)

	m.tick(start.Add(10 * time.Millisecond))
	require.Equal(t, holdHolding, m.hold)

	m.tick(start.Add(100 * time.Millisecond))
	require.Equal(t, holdNormal, m.hold)
}

// TestRtpL16WireBytesAreNetworkByteOrder ticks a real mixer backed by a
// real RtpL16 sender and decodes the actual UDP/RTP bytes it emits,
// guarding against the downscale/sender byte-order mismatch: the
// mixer's downscale stage already emits big-endian samples, so the RTP
// sender must pass them through unchanged rather than re-swapping them.
func TestRtpL16WireBytesAreNetworkByteOrder(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()
	port := listener.LocalAddr().(*net.UDPAddr).Port

	settings := config.Default()
	settings.UnderrunHoldTimeoutMs = 0
	ctx := audioctx.New(settings, nil)
	cfg := config.SinkConfig{
		SinkID:           "rtp-wire-sink",
		ProtocolVariant:  config.ProtocolRtpL16,
		OutputIP:         "127.0.0.1",
		OutputPort:       port,
		OutputSampleRate: 48000,
		OutputBitDepth:   16,
		OutputChannels:   2,
		FramesPerChunk:   4,
	}
	m, err := New(ctx, cfg)
	require.NoError(t, err)
	defer m.primary.Close()

	qa := m.AttachSource("A")
	defer m.sched.DetachSource("A")

	// mixBuf carries full 32-bit range samples; downscaleToPayload right
	// shifts by 16 for 16-bit output, so 0x12340000 downscales to 0x1234.
	samples := make([]int32, 4*2)
	for i := range samples {
		samples[i] = 0x12340000
	}
	qa.Push(chunk.ProcessedChunk{Samples: samples, Channels: 2, SSRCs: []uint32{99}})

	require.Eventually(t, func() bool {
		return m.sched.Metrics()["A"].Depth == 1
	}, time.Second, time.Millisecond)

	m.tick(time.Now())

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	require.Len(t, pkt.Payload, 16)
	for i := 0; i < len(pkt.Payload); i += 2 {
		require.Equal(t, byte(0x12), pkt.Payload[i], "sample high byte at offset %d", i)
		require.Equal(t, byte(0x34), pkt.Payload[i+1], "sample low byte at offset %d", i)
	}
}

func TestReconfigureRejectsTransportShapeChange(t *testing.T) {
	m := newTestMixer(t, 2, 16, 288)
	defer m.primary.Close()
	next := m.cfg
	next.OutputChannels = 6
	err := m.Reconfigure(next)
	require.Error(t, err)
}

func TestReconfigureAcceptsMatrixChange(t *testing.T) {
	m := newTestMixer(t, 2, 16, 288)
	defer m.primary.Close()
	next := m.cfg
	next.TimeSyncDelayMs = 5
	require.NoError(t, m.Reconfigure(next))
}
