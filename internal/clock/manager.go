// Package clock implements the shared clock manager: one driver thread
// per unique (sample_rate, channels, bit_depth) tuple that advances a
// monotonic sequence counter at the tuple's chunk cadence and wakes all
// registered mixers.
//
// See DESIGN.md for why this is built on sync.Cond rather than a
// third-party pub/sub library: no repo in the pack models a
// broadcast-to-many-waiters condition variable, and sync.Cond is the
// standard library's purpose-built primitive for exactly that shape.
package clock

import (
	"sync"
	"time"
)

// Key identifies one clock line.
type Key struct {
	SampleRate     int
	Channels       int
	BitDepth       int
	FramesPerChunk int
}

func (k Key) period() time.Duration {
	return time.Duration(int64(k.FramesPerChunk) * int64(time.Second) / int64(k.SampleRate))
}

type line struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sequence uint64
	refs     int
	stop     chan struct{}
}

// ConditionHandle is a mixer's registration against one clock line. It
// carries the last-consumed sequence value so repeated Wait calls only
// report the delta.
type ConditionHandle struct {
	key     Key
	line    *line
	lastSeq uint64
	stopped bool // guarded by line.mu
}

// Manager owns the set of active clock lines, keyed by their tuple.
type Manager struct {
	mu    sync.Mutex
	lines map[Key]*line
}

// NewManager constructs an empty clock manager. A single Manager is
// shared by every mixer in a process, injected via SharedContext.
func NewManager() *Manager {
	return &Manager{lines: make(map[Key]*line)}
}

// Register creates or attaches to the clock line for the given tuple
// and returns a handle. The driver thread starts on first registration
// and stops when the last handle detaches.
func (m *Manager) Register(k Key) *ConditionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lines[k]
	if !ok {
		l = &line{stop: make(chan struct{})}
		l.cond = sync.NewCond(&l.mu)
		m.lines[k] = l
		go driveLine(k, l)
	}
	l.mu.Lock()
	l.refs++
	seq := l.sequence
	l.mu.Unlock()

	return &ConditionHandle{key: k, line: l, lastSeq: seq}
}

// Unregister detaches a handle; when the last holder detaches, the
// driving thread stops and the line is removed.
func (m *Manager) Unregister(h *ConditionHandle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l := h.line
	l.mu.Lock()
	l.refs--
	shouldStop := l.refs <= 0
	l.mu.Unlock()

	if shouldStop {
		close(l.stop)
		delete(m.lines, h.key)
	}
}

func driveLine(k Key, l *line) {
	period := k.period()
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.sequence++
			l.cond.Broadcast()
			l.mu.Unlock()
		}
	}
}

// Wait blocks until the observed sequence exceeds the handle's last
// consumed value, or RequestStop is called on this handle. It returns
// the number of ticks that elapsed (pending_ticks delta), coalesced if
// the caller fell behind, and false if the wait was aborted by stop.
func (h *ConditionHandle) Wait() (pendingTicks uint64, ok bool) {
	h.line.mu.Lock()
	defer h.line.mu.Unlock()
	for h.line.sequence <= h.lastSeq && !h.stopped {
		h.line.cond.Wait()
	}
	if h.stopped {
		return 0, false
	}
	delta := h.line.sequence - h.lastSeq
	h.lastSeq = h.line.sequence
	return delta, true
}

// RequestStop makes any current or future Wait call on this handle
// return immediately with ok=false. It does not affect other handles
// sharing the same clock line.
func (h *ConditionHandle) RequestStop() {
	h.line.mu.Lock()
	h.stopped = true
	h.line.cond.Broadcast()
	h.line.mu.Unlock()
}
