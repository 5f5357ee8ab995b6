// Package ratecontrol implements the adaptive back-pressure controller:
// on a fixed cadence it measures per-source backlog, smooths it with an
// EMA, and emits SetPlaybackRateScale commands upstream when the
// commanded ratio changes.
//
// No pack repo implements an EMA-over-backlog controller; the decision
// math here follows spec.md §4.4 directly.
package ratecontrol

import (
	"math"
	"sync"

	"github.com/soundmesh/sinkmixer/internal/scheduler"
)

// RateCommand is the message sent upstream to a source's control channel.
type RateCommand struct {
	InstanceID string
	Ratio      float32
}

// BacklogSource is the subset of *scheduler.Scheduler the controller needs.
type BacklogSource interface {
	KnownSources() []string
	BacklogMs(instanceID string) (float64, bool)
	RateState(instanceID string) (smoothedMs, lastRatio float64, ok bool)
	SetRateState(instanceID string, smoothedMs, lastRatio float64)
}

// Tuning mirrors the subset of AudioEngineSettings the controller reads.
type Tuning struct {
	TargetBufferLevelMs  int
	BufferToleranceMs    int
	MaxSpeedupFactor     float64
	DrainSmoothingFactor float64
	ChunkDurationMs      float64
}

// Controller runs one measurement pass at a time; Tick is called by the
// owner on buffer_measurement_interval_ms cadence (e.g. from a
// time.Ticker in the mixer's host, or directly in tests).
type Controller struct {
	mu     sync.Mutex
	src    BacklogSource
	tuning Tuning
	seen   map[string]bool
}

// New builds a Controller bound to a scheduler's backlog view.
func New(src BacklogSource, tuning Tuning) *Controller {
	return &Controller{
		src:    src,
		tuning: tuning,
		seen:   make(map[string]bool),
	}
}

const ratioEpsilon = 1e-4

// Tick measures backlog for every known source, updates smoothed state,
// and returns the commands that should be emitted this pass. Entries
// for detached sources are evicted from the controller's seen set.
func (c *Controller) Tick() []RateCommand {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]bool)
	var cmds []RateCommand

	for _, id := range c.src.KnownSources() {
		known[id] = true
		c.seen[id] = true
		backlogMs, ok := c.src.BacklogMs(id)
		if !ok {
			continue
		}
		smoothed, lastRatio, ok := c.src.RateState(id)
		if !ok {
			continue
		}

		alpha := 1.0 - c.tuning.DrainSmoothingFactor
		smoothed = smoothed*(1-alpha) + backlogMs*alpha

		ratio := c.decideRatio(smoothed)
		if math.Abs(ratio-lastRatio) > ratioEpsilon {
			cmds = append(cmds, RateCommand{InstanceID: id, Ratio: float32(ratio)})
			lastRatio = ratio
		}
		c.src.SetRateState(id, smoothed, lastRatio)
	}

	for id := range c.seen {
		if !known[id] {
			delete(c.seen, id)
		}
	}

	return cmds
}

func (c *Controller) decideRatio(smoothedBacklogMs float64) float64 {
	if c.tuning.ChunkDurationMs <= 0 {
		return 1.0
	}
	upperBandMs := float64(c.tuning.TargetBufferLevelMs + c.tuning.BufferToleranceMs)
	upperBandBlocks := upperBandMs / c.tuning.ChunkDurationMs
	blocksQueued := smoothedBacklogMs / c.tuning.ChunkDurationMs

	if blocksQueued <= upperBandBlocks {
		return 1.0
	}
	ratio := 1.0 + 0.01*(blocksQueued-upperBandBlocks)
	if ratio > c.tuning.MaxSpeedupFactor {
		ratio = c.tuning.MaxSpeedupFactor
	}
	return ratio
}
