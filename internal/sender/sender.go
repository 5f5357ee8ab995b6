// Package sender implements the polymorphic NetworkSender family:
// ScreamLegacy, RtpL16, RtpOpus, MultiDeviceRtp, WebRtcDataChannel, and
// SystemAudio. Shared RTP plumbing (sequence/timestamp/header/send) is
// factored into internal/rtpsession rather than carried via
// inheritance, per spec.md §9's design note.
package sender

import "github.com/soundmesh/sinkmixer/internal/config"

// NetworkSender is the contract every sink output transport implements.
// Close must be idempotent: a second call is a no-op.
type NetworkSender interface {
	Setup() error
	SendPayload(payload []byte, csrcs []uint32) error
	Close() error
}

// FormatNegotiator is implemented by senders that may renegotiate the
// effective output format during Setup (SystemAudio only). The mixer's
// updatePlaybackFormatFromSender reads NegotiatedFormat once, after
// Setup, when the mixer is constructed.
type FormatNegotiator interface {
	NegotiatedFormat() (sampleRate, channels, bitDepth int, ok bool)
}

// DeferredSetup is implemented by senders whose transport initialization
// must happen off the listener map lock (WebRTC-class transports), per
// spec.md §4.8/§9.
type DeferredSetup interface {
	NeedsDeferredSetup() bool
}

// NeedsDeferredSetup reports whether a sender requires the two-phase
// add/kick_setup dance. Senders that don't implement DeferredSetup are
// treated as immediate-setup.
func NeedsDeferredSetup(s NetworkSender) bool {
	if d, ok := s.(DeferredSetup); ok {
		return d.NeedsDeferredSetup()
	}
	return false
}

// New constructs the sender variant named by cfg.ProtocolVariant. It is
// the single wiring point cmd/mixerdemo and tests use; individual
// variant constructors remain exported for direct use.
func New(cfg config.SinkConfig, deps Dependencies) (NetworkSender, error) {
	switch cfg.ProtocolVariant {
	case config.ProtocolScreamLegacy:
		return NewScreamLegacy(cfg)
	case config.ProtocolRtpL16:
		return NewRtpL16(cfg, deps)
	case config.ProtocolRtpOpus:
		return NewRtpOpus(cfg, deps)
	case config.ProtocolMultiDeviceL16:
		return NewMultiDeviceRtp(cfg, deps, false)
	case config.ProtocolMultiDeviceOpus:
		return NewMultiDeviceRtp(cfg, deps, true)
	case config.ProtocolWebRtcDataChan:
		return NewWebRtcDataChannel(cfg)
	case config.ProtocolSystemAudio:
		return NewSystemAudio(cfg)
	default:
		return nil, ErrUnknownVariant
	}
}
