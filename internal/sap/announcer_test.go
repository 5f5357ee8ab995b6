package sap

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSDPStableAcrossCalls(t *testing.T) {
	p := SDPParams{SSRC: 999, SinkID: "living-room", SrcIP: "10.0.0.5", DstIP: "239.1.1.1", DstPort: 4010, PayloadType: 127, Codec: "L16", ClockRate: 48000, Channels: 2}
	a := BuildSDP(p)
	b := BuildSDP(p)
	require.Equal(t, a, b)
	require.Contains(t, a, "m=audio 4010 RTP/AVP 127")
	require.Contains(t, a, "a=rtpmap:127 L16/48000/2")
}

func TestBuildSDPOpusExtras(t *testing.T) {
	p := SDPParams{SSRC: 1, SinkID: "x", SrcIP: "1.2.3.4", DstIP: "1.2.3.5", DstPort: 5004, PayloadType: 111, Codec: "opus", ClockRate: 48000, Channels: 2, OpusPTime: true}
	sdp := BuildSDP(p)
	require.Contains(t, sdp, "a=ptime:20")
}

func TestBuildSDPChannelMapForMultichannel(t *testing.T) {
	p := SDPParams{SSRC: 1, SinkID: "x", SrcIP: "1.2.3.4", DstIP: "1.2.3.5", DstPort: 5004, PayloadType: 127, Codec: "L16", ClockRate: 48000, Channels: 6, ChannelMap: "6 0,1,2,3,4,5"}
	sdp := BuildSDP(p)
	require.Contains(t, sdp, "a=channelmap:127 6 0,1,2,3,4,5")
}

func TestBuildPacketHeaderLayout(t *testing.T) {
	pkt := BuildPacket(0x1234, net.ParseIP("10.0.0.1"), "v=0\r\n")
	require.Equal(t, byte(0x20), pkt[0])
	require.Equal(t, byte(0x00), pkt[1])
	require.Equal(t, byte(0x12), pkt[2])
	require.Equal(t, byte(0x34), pkt[3])
	require.Equal(t, []byte{10, 0, 0, 1}, pkt[4:8])
	require.Contains(t, string(pkt), "application/sdp")
}
