package sender

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/soundmesh/sinkmixer/internal/config"
)

const dcInactivityTimeout = 30 * time.Second

// WebRtcDataChannel is the deferred-setup variant: the host runtime
// creates the underlying *webrtc.DataChannel during its own signaling
// flow and hands it to us via AttachChannel, off the listener map lock,
// per spec.md §4.9/§9.
type WebRtcDataChannel struct {
	cfg config.SinkConfig

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	lastSend time.Time
	closed   bool
}

// NewWebRtcDataChannel constructs the sender shell; the data channel
// itself arrives later via AttachChannel since signaling is out of
// this engine's scope.
func NewWebRtcDataChannel(cfg config.SinkConfig) (*WebRtcDataChannel, error) {
	return &WebRtcDataChannel{cfg: cfg, lastSend: time.Now()}, nil
}

// NeedsDeferredSetup marks this variant for the dispatcher's two-phase
// add/kick_setup path (sender.DeferredSetup).
func (w *WebRtcDataChannel) NeedsDeferredSetup() bool { return true }

// AttachChannel completes setup once the host has released its
// signaling locks. May be called again; a later call replaces the
// channel (used when the host renegotiates).
func (w *WebRtcDataChannel) AttachChannel(dc *webrtc.DataChannel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dc = dc
	w.lastSend = time.Now()
	dc.OnClose(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
	})
}

// Setup is a no-op: the real attach happens via AttachChannel outside
// the listener map lock.
func (w *WebRtcDataChannel) Setup() error { return nil }

// SendPayload writes payload to the data channel if open, and resets
// the inactivity watchdog. csrcs is accepted to satisfy NetworkSender
// but carries no meaning over a data channel.
func (w *WebRtcDataChannel) SendPayload(payload []byte, csrcs []uint32) error {
	w.mu.Lock()
	dc := w.dc
	w.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	if err := dc.Send(payload); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastSend = time.Now()
	w.mu.Unlock()
	return nil
}

// Closed reports true once the data channel has fired OnClose or the
// inactivity watchdog has tripped. WebRtcDataChannel is a
// NetworkSender, not a listener.Handle, so the listener registry's
// per-tick cleanup does not poll it.
func (w *WebRtcDataChannel) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return true
	}
	return time.Since(w.lastSend) > dcInactivityTimeout
}

// Close marks the sender closed; it does not close the underlying data
// channel, which the host's PeerConnection owns. Idempotent.
func (w *WebRtcDataChannel) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}
