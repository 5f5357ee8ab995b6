// Package sap builds and multicasts RFC 2974 Session Announcement
// Protocol packets describing an RTP stream's SDP, per spec.md §6.
//
// No repo in the pack emits SAP; the wire layout is built directly
// from spec.md's byte-for-byte description.
package sap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	AddrGlobal = "224.2.127.254:9875"
	AddrLocal  = "224.0.0.56:9875"
	ttl        = 16
)

// SDPParams describes one session's SDP body.
type SDPParams struct {
	SSRC          uint32
	SinkID        string
	SrcIP         string
	DstIP         string
	DstPort       int
	PayloadType   int
	Codec         string // e.g. "L16", "opus", "multiopus"
	ClockRate     int
	Channels      int
	FmtpLine      string // codec-specific fmtp params, may be empty
	OpusPTime     bool   // emit a=ptime:20
	ChannelMap    string // e.g. "6 0,1,2,3,4,5" when channels>=3 and not Opus
}

// BuildSDP renders the SDP body described in spec.md §6. Two calls with
// identical params produce byte-identical output (stable session id
// from SSRC), satisfying the round-trip property in spec.md §8.
func BuildSDP(p SDPParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=sinkmixer %d 1 IN IP4 %s\r\n", p.SSRC, p.SrcIP)
	fmt.Fprintf(&b, "s=%s\r\n", p.SinkID)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", p.DstIP)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", p.DstPort, p.PayloadType)
	if p.Channels > 0 && p.Channels != 1 {
		fmt.Fprintf(&b, "a=rtpmap:%d %s/%d/%d\r\n", p.PayloadType, p.Codec, p.ClockRate, p.Channels)
	} else {
		fmt.Fprintf(&b, "a=rtpmap:%d %s/%d\r\n", p.PayloadType, p.Codec, p.ClockRate)
	}
	if p.FmtpLine != "" {
		fmt.Fprintf(&b, "a=fmtp:%d %s\r\n", p.PayloadType, p.FmtpLine)
	}
	if p.OpusPTime {
		fmt.Fprintf(&b, "a=ptime:20\r\n")
	}
	if p.ChannelMap != "" {
		fmt.Fprintf(&b, "a=channelmap:%d %s\r\n", p.PayloadType, p.ChannelMap)
	}
	return b.String()
}

// BuildPacket assembles the full SAP datagram: RFC 2974 header,
// "application/sdp\0", the SDP body, and a trailing NUL.
func BuildPacket(msgIDHashSource16 uint16, srcIP net.IP, sdp string) []byte {
	var buf bytes.Buffer
	// V=1, ARsvdT=0 (announce, IPv4, no encryption/compression), auth len=0
	buf.WriteByte(0x20)
	buf.WriteByte(0x00) // auth length = 0
	binary.Write(&buf, binary.BigEndian, msgIDHashSource16)
	ip4 := srcIP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	buf.Write(ip4)
	buf.WriteString("application/sdp")
	buf.WriteByte(0)
	buf.WriteString(sdp)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Announcer periodically multicasts a SAP packet for one stream.
type Announcer struct {
	conn     *net.UDPConn
	addr     *net.UDPAddr
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}

	buildPacket func() []byte
}

// New builds an Announcer targeting addr (AddrGlobal or AddrLocal) with
// the given interval (spec.md: 5s) and a closure producing the current
// SAP datagram on each tick (sequence-derived msg-id-hash changes the
// datagram's first bytes even when the SDP body is stable).
func New(addr string, interval time.Duration, buildPacket func() []byte) (*Announcer, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("sap: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("sap: dial %s: %w", addr, err)
	}
	setMulticastTTL(conn, ttl)

	return &Announcer{
		conn:        conn,
		addr:        raddr,
		interval:    interval,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		buildPacket: buildPacket,
	}, nil
}

// Start begins the periodic announce loop; call Stop to end it.
func (a *Announcer) Start() {
	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				_, _ = a.conn.Write(a.buildPacket())
			}
		}
	}()
}

// Stop ends the announce loop and closes the socket. Idempotent.
func (a *Announcer) Stop() {
	select {
	case <-a.stop:
		return
	default:
		close(a.stop)
	}
	<-a.done
	_ = a.conn.Close()
}
