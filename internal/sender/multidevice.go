package sender

import (
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/soundmesh/sinkmixer/internal/config"
	"github.com/soundmesh/sinkmixer/internal/rtpsession"
)

// receiverLeg is one destination of a MultiDeviceRtp sender: its own
// RTP session, stereo channel mapping into the N-channel mix, and (for
// the Opus variant) its own encoder instance.
type receiverLeg struct {
	cfg  config.RtpReceiver
	core *rtpsession.Core
	enc  *gopus.Encoder // nil for the L16 variant

	mu       sync.Mutex
	frameBuf []int16
}

// MultiDeviceRtp fans a single mix out to N independent RTP receivers,
// each getting a stereo extraction per its left/right channel indices,
// all sharing one timestamp clock per spec.md §4.9 (timestamp advances
// once per mixer chunk, not per receiver — see the Open Question
// decision in DESIGN.md).
type MultiDeviceRtp struct {
	cfg       config.SinkConfig
	deps      Dependencies
	opus      bool
	sourceChannels int
	legs      []*receiverLeg
	sharedTS  uint32
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewMultiDeviceRtp builds one RtpSession (and, for opus, one encoder)
// per configured receiver.
func NewMultiDeviceRtp(cfg config.SinkConfig, deps Dependencies, opus bool) (*MultiDeviceRtp, error) {
	if len(cfg.RtpReceivers) == 0 {
		return nil, fmt.Errorf("%w: multidevice sender requires at least one rtp_receiver", ErrConfigInvalid)
	}
	pt := uint8(rtpL16PayloadType)
	if opus {
		pt = rtpOpusPayloadType
		if cfg.OutputSampleRate != 48000 || cfg.OutputBitDepth != 16 {
			return nil, fmt.Errorf("%w: multidevice opus requires 48kHz/16-bit, got %dHz/%d-bit", ErrConfigInvalid, cfg.OutputSampleRate, cfg.OutputBitDepth)
		}
	}

	m := &MultiDeviceRtp{cfg: cfg, deps: deps, opus: opus, sourceChannels: cfg.OutputChannels}
	for _, rc := range cfg.RtpReceivers {
		core, err := rtpsession.New(rc.IP, rc.Port, pt)
		if err != nil {
			m.closeLegsBuiltSoFar()
			return nil, fmt.Errorf("%w: receiver %s:%d: %v", ErrSetupFailed, rc.IP, rc.Port, err)
		}
		if deps.ReserveSSRC != nil {
			deps.ReserveSSRC(core.SSRC)
		}
		leg := &receiverLeg{cfg: rc, core: core}
		if opus {
			enc, err := gopus.NewEncoder(cfg.OutputSampleRate, 2, gopus.Audio)
			if err != nil {
				m.closeLegsBuiltSoFar()
				return nil, fmt.Errorf("%w: receiver %s:%d opus encoder: %v", ErrSetupFailed, rc.IP, rc.Port, err)
			}
			enc.SetBitrate(opusBitrateBps)
			leg.enc = enc
		}
		m.legs = append(m.legs, leg)
	}
	return m, nil
}

func (m *MultiDeviceRtp) closeLegsBuiltSoFar() {
	for _, leg := range m.legs {
		_ = leg.core.Close()
	}
}

// Setup is a no-op; all sessions are dialed in New.
func (m *MultiDeviceRtp) Setup() error { return nil }

// SendPayload extracts each receiver's stereo pair from the
// multichannel mix and dispatches it over that receiver's own RTP
// session. All receivers share one timestamp, advanced once per call
// regardless of per-leg MTU slicing, per the Open Question decision.
func (m *MultiDeviceRtp) SendPayload(payload []byte, csrcs []uint32) error {
	bytesPerSample := m.cfg.OutputBitDepth / 8
	frames := len(payload) / (bytesPerSample * m.sourceChannels)
	sorted := sortedCSRCs(csrcs)

	m.mu.Lock()
	for _, leg := range m.legs {
		leg.core.AdvanceTimestamp(uint32(frames))
	}
	m.mu.Unlock()

	for _, leg := range m.legs {
		stereo := extractStereo(payload, m.sourceChannels, bytesPerSample, leg.cfg.LeftIdx, leg.cfg.RightIdx)
		if m.opus {
			m.sendOpusLeg(leg, stereo, sorted)
		} else {
			m.sendL16Leg(leg, stereo, bytesPerSample, sorted)
		}
	}
	return nil
}

// sendL16Leg sends stereo as-is: extractStereo preserves the
// big-endian byte order the mixer's downscale stage already produced,
// so no further byte-order conversion is needed here.
func (m *MultiDeviceRtp) sendL16Leg(leg *receiverLeg, stereo []byte, bytesPerSample int, csrcs []uint32) {
	slices := rtpsession.SliceMTU(stereo, rtpL16MTUBytes, bytesPerSample*2)
	for i, slice := range slices {
		marker := i == len(slices)-1
		leg.core.SendRTPPacket(slice, csrcs, marker)
	}
}

func (m *MultiDeviceRtp) sendOpusLeg(leg *receiverLeg, stereo []byte, csrcs []uint32) {
	samples := bytesToInt16(stereo)

	leg.mu.Lock()
	leg.frameBuf = append(leg.frameBuf, samples...)
	frameLen := opusFrameSamples * 2
	var frames [][]int16
	for len(leg.frameBuf) >= frameLen {
		frames = append(frames, append([]int16(nil), leg.frameBuf[:frameLen]...))
		leg.frameBuf = leg.frameBuf[frameLen:]
	}
	leg.mu.Unlock()

	for _, frame := range frames {
		encoded, err := leg.enc.Encode(frame, opusFrameSamples, opusMaxOutputBytes)
		if err != nil {
			continue
		}
		leg.core.SendRTPPacket(encoded, csrcs, false)
	}
}

// extractStereo pulls the left/right channel pair out of an
// interleaved N-channel frame buffer, producing interleaved stereo at
// the same bit depth.
func extractStereo(payload []byte, channels, bytesPerSample, leftIdx, rightIdx int) []byte {
	frameBytes := channels * bytesPerSample
	frames := len(payload) / frameBytes
	out := make([]byte, frames*2*bytesPerSample)
	for f := 0; f < frames; f++ {
		frameOff := f * frameBytes
		outOff := f * 2 * bytesPerSample
		copy(out[outOff:outOff+bytesPerSample], payload[frameOff+leftIdx*bytesPerSample:])
		copy(out[outOff+bytesPerSample:outOff+2*bytesPerSample], payload[frameOff+rightIdx*bytesPerSample:])
	}
	return out
}

// Close releases every receiver leg's RTP session and reserved SSRC.
// Idempotent.
func (m *MultiDeviceRtp) Close() error {
	m.closeOnce.Do(func() {
		for _, leg := range m.legs {
			if m.deps.ReleaseSSRC != nil {
				m.deps.ReleaseSSRC(leg.core.SSRC)
			}
			_ = leg.core.Close()
		}
	})
	return nil
}
