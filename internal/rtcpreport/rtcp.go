// Package rtcpreport builds RTCP Sender Reports and parses incoming
// Receiver Reports/SDES/BYE, per spec.md §6.
//
// Grounded on webrtc/sfu.go's use of github.com/pion/rtcp
// (rtcp.Unmarshal + a type switch over *rtcp.PictureLossIndication /
// *rtcp.FullIntraRequest in the teacher repo), generalized here to the
// SR/RR/SDES/BYE types this engine's RTCP loop actually needs.
package rtcpreport

import (
	"time"

	"github.com/pion/rtcp"
)

const ntpEpochOffsetSeconds = 2208988800

// NTPTimestamp converts a wall-clock time, shifted by timeSyncDelay,
// into the 64-bit NTP fixed-point timestamp format used by SR packets.
func NTPTimestamp(wall time.Time, timeSyncDelay time.Duration) (msw, lsw uint32) {
	adjusted := wall.Add(timeSyncDelay)
	secs := adjusted.Unix() + ntpEpochOffsetSeconds
	frac := adjusted.Nanosecond()
	msw = uint32(secs)
	lsw = uint32((int64(frac) << 32) / int64(time.Second))
	return msw, lsw
}

// BuildSenderReport assembles an RTCP SR for the given session state.
// timeSyncDelay is applied only to the NTP field, never to the media
// RTP timestamp (see DESIGN.md's Open Question decision #3).
func BuildSenderReport(ssrc uint32, rtpTimestamp uint32, packetCount, octetCount uint32, now time.Time, timeSyncDelay time.Duration) *rtcp.SenderReport {
	msw, lsw := NTPTimestamp(now, timeSyncDelay)
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     uint64(msw)<<32 | uint64(lsw),
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
}

// ReceptionSummary is the subset of a Receiver Report worth logging.
type ReceptionSummary struct {
	SSRC         uint32
	FractionLost uint8
	TotalLost    int32
	Jitter       uint32
	RTT          time.Duration
	ByeReason    string
}

// Parse decodes an incoming RTCP compound packet and extracts
// reception summaries from ReceiverReport blocks and a reason string
// from any BYE packet, per spec.md §6.
func Parse(buf []byte) ([]ReceptionSummary, error) {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	var out []ReceptionSummary
	for _, p := range pkts {
		switch v := p.(type) {
		case *rtcp.ReceiverReport:
			for _, block := range v.Reports {
				out = append(out, ReceptionSummary{
					SSRC:         block.SSRC,
					FractionLost: block.FractionLost,
					TotalLost:    int32(block.TotalLost),
					Jitter:       block.Jitter,
					RTT:          rttFromLSRDLSR(block.LastSenderReport, block.Delay),
				})
			}
		case *rtcp.Goodbye:
			reason := v.Reason
			for _, ssrc := range v.Sources {
				out = append(out, ReceptionSummary{SSRC: ssrc, ByeReason: string(reason)})
			}
		}
	}
	return out, nil
}

// rttFromLSRDLSR approximates round-trip time from the LSR/DLSR fields
// of a ReceptionReport block, both expressed in 1/65536 second units.
func rttFromLSRDLSR(lsr, dlsr uint32) time.Duration {
	if lsr == 0 {
		return 0
	}
	units := uint64(dlsr)
	return time.Duration(units * uint64(time.Second) / 65536)
}
