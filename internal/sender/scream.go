package sender

import (
	"fmt"
	"net"

	"github.com/soundmesh/sinkmixer/internal/config"
)

// ScreamLegacy is the original 5-byte-header UDP sender: no RTP, no
// sequencing, just a header describing the PCM format followed by raw
// samples in the sink's bit depth, per spec.md §6.
type ScreamLegacy struct {
	cfg  config.SinkConfig
	conn *net.UDPConn
}

// NewScreamLegacy dials the sink's destination; dialing happens here
// (not in Setup) since this variant never renegotiates.
func NewScreamLegacy(cfg config.SinkConfig) (*ScreamLegacy, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(cfg.OutputIP), Port: cfg.OutputPort}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: scream dial %s:%d: %v", ErrSetupFailed, cfg.OutputIP, cfg.OutputPort, err)
	}
	return &ScreamLegacy{cfg: cfg, conn: conn}, nil
}

// Setup is a no-op; the socket is already live from New.
func (s *ScreamLegacy) Setup() error { return nil }

// header builds the 5-byte Scream legacy header. Byte 0's bit 7
// selects a 48 kHz base (clear selects 44.1 kHz); bits 6..0 carry the
// multiplier against that base, e.g. 48000Hz -> 0x81, 96000Hz -> 0x82,
// 44100Hz -> 0x01, 88200Hz -> 0x02. Byte 1 bit depth, byte 2 channel
// count, bytes 3-4 channel-layout mask (low, high).
func (s *ScreamLegacy) header() [5]byte {
	var b [5]byte
	rate := s.cfg.OutputSampleRate
	var flag byte
	if rate%48000 == 0 {
		flag = 0x80 | byte(rate/48000)
	} else {
		flag = byte(rate / 44100)
	}
	b[0] = flag
	b[1] = byte(s.cfg.OutputBitDepth)
	b[2] = byte(s.cfg.OutputChannels)
	b[3] = byte(s.cfg.ChannelLayoutMask)
	b[4] = byte(s.cfg.ChannelLayoutMask >> 8)
	return b
}

// SendPayload prepends the format header to payload and writes one
// datagram. csrcs is accepted to satisfy the NetworkSender interface
// but unused: the legacy wire format carries no contributing-source info.
func (s *ScreamLegacy) SendPayload(payload []byte, csrcs []uint32) error {
	hdr := s.header()
	buf := make([]byte, 0, len(hdr)+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	_, err := s.conn.Write(buf)
	return err
}

// Close closes the UDP socket. Idempotent.
func (s *ScreamLegacy) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
