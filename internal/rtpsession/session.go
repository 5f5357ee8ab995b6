// Package rtpsession implements RtpSessionCore: the sequence number,
// SSRC, timestamp, header construction, and UDP/multicast send logic
// shared by every RTP-based sender variant. Split out as a composed
// member rather than a base "class", per spec.md §9's design note.
//
// Header assembly and the rtp.Packet round trip are grounded on
// webrtc/sfu.go's use of github.com/pion/rtp in the teacher repo
// (pkt.Marshal() / rtp.Packet{...}); the socket TTL/multicast/DSCP
// setup is grounded on doismellburning-samoyed's use of golang.org/x/sys
// for low-level socket option access.
package rtpsession

import (
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

const maxCSRC = 15

// Core is the shared mutable RTP session state for one stream.
type Core struct {
	SSRC        uint32
	PayloadType uint8

	sequence uint32 // atomic; low 16 bits are the wire sequence
	timestamp uint32 // atomic

	packetCount uint64 // atomic
	octetCount  uint64 // atomic

	conn *net.UDPConn

	StreamStartWallTime      time.Time
	StreamStartRefTime       time.Time
	StreamStartRTPTimestamp  uint32
}

// New builds a Core with a random, stable SSRC and dials the given
// destination. On Linux the TTL (and, for a multicast destination, the
// multicast TTL) is set to 64 and DSCP EF(46) is requested; no
// multicast interface is joined or selected.
func New(destIP string, destPort int, payloadType uint8) (*Core, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(destIP), Port: destPort}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("rtpsession: dial %s:%d: %w", destIP, destPort, err)
	}

	configureSocket(conn, raddr.IP)

	now := time.Now()
	return &Core{
		SSRC:                    rand.Uint32(),
		PayloadType:             payloadType,
		conn:                    conn,
		StreamStartWallTime:     now,
		StreamStartRefTime:      now,
		StreamStartRTPTimestamp: rand.Uint32(),
	}, nil
}

// Close closes the underlying UDP socket. Idempotent.
func (c *Core) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Sequence returns the current wire sequence number (for SR reporting).
func (c *Core) Sequence() uint16 {
	return uint16(atomic.LoadUint32(&c.sequence))
}

// Timestamp returns the current RTP timestamp (for SR reporting).
func (c *Core) Timestamp() uint32 {
	return atomic.LoadUint32(&c.timestamp)
}

// Counts returns packet/octet counters (for SR reporting).
func (c *Core) Counts() (packets, octets uint64) {
	return atomic.LoadUint64(&c.packetCount), atomic.LoadUint64(&c.octetCount)
}

// AdvanceTimestamp bumps the RTP clock by frameCount, independent of
// whether any packet is actually sent — spec.md §3's RtpSession
// invariant.
func (c *Core) AdvanceTimestamp(frameCount uint32) {
	atomic.AddUint32(&c.timestamp, frameCount)
}

// SendRTPPacket assembles and transmits one RTP packet carrying
// payload, at the current timestamp, with up to 15 CSRCs (only the
// first 15 of csrcs, in the order given, are kept), returning false
// (not an error) on a
// transport-level send failure per spec.md's SendFailed semantics:
// sequence and octet/packet counters still advance.
func (c *Core) SendRTPPacket(payload []byte, csrcs []uint32, marker bool) bool {
	seq := uint16(atomic.AddUint32(&c.sequence, 1))
	ts := atomic.LoadUint32(&c.timestamp)

	if len(csrcs) > maxCSRC {
		csrcs = csrcs[:maxCSRC]
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         marker,
			PayloadType:    c.PayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           c.SSRC,
			CSRC:           csrcs,
		},
		Payload: payload,
	}

	atomic.AddUint64(&c.packetCount, 1)
	atomic.AddUint64(&c.octetCount, uint64(len(payload)))

	raw, err := pkt.Marshal()
	if err != nil {
		return false
	}
	if _, err := c.conn.Write(raw); err != nil {
		return false
	}
	return true
}

// SliceMTU splits payload into frame-aligned chunks no larger than
// mtuBytes, where bytesPerFrame is the wire size of one audio frame
// (channels * bytes_per_sample). The last slice is always returned even
// if shorter than a full frame multiple boundary would allow.
func SliceMTU(payload []byte, mtuBytes, bytesPerFrame int) [][]byte {
	if bytesPerFrame <= 0 || len(payload) == 0 {
		return nil
	}
	framesPerSlice := mtuBytes / bytesPerFrame
	if framesPerSlice < 1 {
		framesPerSlice = 1
	}
	sliceBytes := framesPerSlice * bytesPerFrame

	var out [][]byte
	for off := 0; off < len(payload); off += sliceBytes {
		end := off + sliceBytes
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[off:end])
	}
	return out
}
