package sender

import (
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/soundmesh/sinkmixer/internal/config"
	"github.com/soundmesh/sinkmixer/internal/rtpsession"
)

const (
	rtpOpusPayloadType  = 111
	opusFrameSamples    = 960 // 20ms @ 48kHz
	opusBitrateBps      = 192000
	opusMaxOutputBytes  = 4000
)

// RtpOpus encodes the sink's stereo/multichannel PCM to Opus and sends
// it as RTP PT 111, per spec.md §4.9. It never slices at the MTU since
// one 20ms Opus frame is always well under it.
type RtpOpus struct {
	cfg  config.SinkConfig
	deps Dependencies
	core *rtpsession.Core
	enc  *gopus.Encoder

	mu        sync.Mutex
	frameBuf  []int16
	closeOnce sync.Once
}

// NewRtpOpus validates the Opus-only format constraint (enforced again
// here, not just in config.Validate, since senders may be constructed
// directly in tests) and builds the encoder and RTP session.
func NewRtpOpus(cfg config.SinkConfig, deps Dependencies) (*RtpOpus, error) {
	if cfg.OutputSampleRate != 48000 || cfg.OutputBitDepth != 16 {
		return nil, fmt.Errorf("%w: opus requires 48kHz/16-bit, got %dHz/%d-bit", ErrConfigInvalid, cfg.OutputSampleRate, cfg.OutputBitDepth)
	}
	core, err := rtpsession.New(cfg.OutputIP, cfg.OutputPort, rtpOpusPayloadType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	if deps.ReserveSSRC != nil {
		deps.ReserveSSRC(core.SSRC)
	}

	enc, err := gopus.NewEncoder(cfg.OutputSampleRate, cfg.OutputChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", ErrSetupFailed, err)
	}
	enc.SetBitrate(opusBitrateBps)

	return &RtpOpus{cfg: cfg, deps: deps, core: core, enc: enc}, nil
}

// Setup is a no-op; encoder and session are live from New.
func (r *RtpOpus) Setup() error { return nil }

// SendPayload accumulates the mixer's downscaled 16-bit big-endian PCM
// (re-widened to host int16 here) into 20ms frames and emits one RTP
// packet per full frame. The RTP clock always advances by
// opusFrameSamples regardless of encode or send success, per spec.md's
// timestamp-advance invariant.
func (r *RtpOpus) SendPayload(payload []byte, csrcs []uint32) error {
	samples := bytesToInt16(payload)

	r.mu.Lock()
	r.frameBuf = append(r.frameBuf, samples...)
	frameLen := opusFrameSamples * r.cfg.OutputChannels
	var frames [][]int16
	for len(r.frameBuf) >= frameLen {
		frames = append(frames, append([]int16(nil), r.frameBuf[:frameLen]...))
		r.frameBuf = r.frameBuf[frameLen:]
	}
	r.mu.Unlock()

	sorted := sortedCSRCs(csrcs)
	for _, frame := range frames {
		r.core.AdvanceTimestamp(opusFrameSamples)
		encoded, err := r.enc.Encode(frame, opusFrameSamples, opusMaxOutputBytes)
		if err != nil {
			continue
		}
		r.core.SendRTPPacket(encoded, sorted, false)
	}
	return nil
}

func sortedCSRCs(csrcs []uint32) []uint32 {
	out := append([]uint32(nil), csrcs...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// bytesToInt16 widens big-endian 16-bit PCM (the mixer's downscale
// output format, spec.md §4.5 step 7) into host int16 samples for the
// Opus encoder.
func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2])<<8 | uint16(b[i*2+1]))
	}
	return out
}

// Close releases the RTP session and reserved SSRC. Idempotent.
func (r *RtpOpus) Close() error {
	r.closeOnce.Do(func() {
		if r.deps.ReleaseSSRC != nil {
			r.deps.ReleaseSSRC(r.core.SSRC)
		}
		_ = r.core.Close()
	})
	return nil
}
