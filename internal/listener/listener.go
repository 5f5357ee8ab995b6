// Package listener manages the set of external writers attached to a
// sink: thread-safe registration, dispatch of mixed/stereo/MP3 frames,
// and periodic cleanup of closed entries.
//
// The registry shape — a map guarded by its own mutex, with the
// "snapshot handles out of the map under lock, then act on them
// outside the lock" discipline — is grounded on sfuRoom/sfuPeer's
// senders map in the teacher repo: sendersMu guards the map only long
// enough to pull out or delete an *webrtc.RTPSender, never while
// calling RemoveTrack or writing to a socket.
package listener

import (
	"sync"

	"go.uber.org/zap"
)

// Handle is anything a sink can fan audio out to beyond its primary
// network sender: a websocket, an HTTP chunked stream, an in-process
// subscriber. Closed is polled by cleanup, not pushed, since handles
// may be closed by their own owner (e.g. the client disconnecting).
//
// WantsMultichannel and ChannelCount implement the Listener data
// model's wants_multichannel/channel_count fields (spec.md §3): a
// listener receives the sink's native multichannel buffer only if it
// wants multichannel AND its declared channel_count matches the mix's
// channel count, otherwise it always falls back to stereo.
type Handle interface {
	ID() string
	WantsMultichannel() bool
	ChannelCount() int
	// WriteMixed receives the sink's 32-bit multichannel mix (before
	// downscaling); bitDepth is the sink's configured output bit depth.
	WriteMixed(samples []int32, bitDepth, channels int) error
	// WriteStereo receives the stereo-downmixed PCM used by clients
	// that can't consume the sink's native channel count.
	WriteStereo(samples []int32) error
	// WriteMP3 receives compressed frames from the MP3 lane, if enabled.
	WriteMP3(frame []byte) error
	Closed() bool
	Close() error
}

// Registry holds the live listener set for one sink.
type Registry struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]Handle
}

// New constructs an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log, entries: make(map[string]Handle)}
}

// Add registers h, replacing any prior entry with the same ID (the old
// entry is closed outside the lock).
func (r *Registry) Add(h Handle) {
	r.mu.Lock()
	old, existed := r.entries[h.ID()]
	r.entries[h.ID()] = h
	r.mu.Unlock()

	if existed {
		_ = old.Close()
	}
}

// Remove unregisters and closes the handle with the given id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	h, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		_ = h.Close()
	}
}

// CleanupClosed drops entries whose Closed() is true, returning the
// count removed. Entries are snapshotted under the lock and closed
// outside it.
func (r *Registry) CleanupClosed() int {
	r.mu.Lock()
	var dead []Handle
	for id, h := range r.entries {
		if h.Closed() {
			dead = append(dead, h)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, h := range dead {
		_ = h.Close()
	}
	return len(dead)
}

// CloseAll unregisters and closes every listener. Used on sink teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]Handle, 0, len(r.entries))
	for id, h := range r.entries {
		all = append(all, h)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, h := range all {
		_ = h.Close()
	}
}

// Count reports the number of currently-registered listeners.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// snapshot returns the current live handles without holding the lock
// during dispatch, so a slow listener can't stall Add/Remove.
func (r *Registry) snapshot() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h)
	}
	return out
}

// DispatchAudio fans the tick's mixed/stereo buffers out to every
// listener per spec.md §4.8's dispatch algorithm: a listener gets the
// native multichannel buffer if it wants multichannel and its declared
// channel_count matches channels, otherwise it gets the stereo
// downmix — never both, and never neither.
func (r *Registry) DispatchAudio(mixed []int32, bitDepth, channels int, stereo []int32) {
	for _, h := range r.snapshot() {
		if h.Closed() {
			continue
		}
		if h.WantsMultichannel() && h.ChannelCount() == channels {
			if err := h.WriteMixed(mixed, bitDepth, channels); err != nil {
				r.log.Debug("listener: mixed write failed", zap.String("id", h.ID()), zap.Error(err))
			}
			continue
		}
		if err := h.WriteStereo(stereo); err != nil {
			r.log.Debug("listener: stereo write failed", zap.String("id", h.ID()), zap.Error(err))
		}
	}
}

// DispatchMP3 fans a compressed frame out to every listener.
func (r *Registry) DispatchMP3(frame []byte) {
	for _, h := range r.snapshot() {
		if h.Closed() {
			continue
		}
		if err := h.WriteMP3(frame); err != nil {
			r.log.Debug("listener: mp3 write failed", zap.String("id", h.ID()), zap.Error(err))
		}
	}
}
