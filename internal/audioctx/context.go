// Package audioctx carries the engine's shared, process-wide
// collaborators through explicit dependency injection rather than
// global mutable singletons, per spec.md §9 "Global shared registries".
package audioctx

import (
	"sync"

	"go.uber.org/zap"

	"github.com/soundmesh/sinkmixer/internal/clock"
	"github.com/soundmesh/sinkmixer/internal/config"
)

// SharedContext bundles the clock manager, the local SSRC registry, and
// the read-mostly engine settings. One SharedContext is constructed per
// process and passed to every mixer.
type SharedContext struct {
	Clock    *clock.Manager
	Settings config.AudioEngineSettings
	Log      *zap.Logger

	ssrcMu  sync.Mutex
	ssrcSet map[uint32]bool
}

// New builds a SharedContext. A nil logger becomes a no-op logger.
func New(settings config.AudioEngineSettings, log *zap.Logger) *SharedContext {
	if log == nil {
		log = zap.NewNop()
	}
	return &SharedContext{
		Clock:    clock.NewManager(),
		Settings: settings,
		Log:      log,
		ssrcSet:  make(map[uint32]bool),
	}
}

// ReserveSSRC registers a generated SSRC so concurrently constructed
// RTP sessions in the same process don't collide. Returns false if
// already taken.
func (c *SharedContext) ReserveSSRC(ssrc uint32) bool {
	c.ssrcMu.Lock()
	defer c.ssrcMu.Unlock()
	if c.ssrcSet[ssrc] {
		return false
	}
	c.ssrcSet[ssrc] = true
	return true
}

// ReleaseSSRC frees a previously reserved SSRC.
func (c *SharedContext) ReleaseSSRC(ssrc uint32) {
	c.ssrcMu.Lock()
	defer c.ssrcMu.Unlock()
	delete(c.ssrcSet, ssrc)
}
