// Package scheduler implements the Mix Scheduler: one collector
// goroutine per attached source that drains the source's input queue
// into a bounded, per-source ready deque, plus a Harvest operation the
// mixer calls once per tick.
//
// The collector-goroutine-per-source shape is grounded on
// webrtc/sfu.go's per-track reader goroutine in the teacher repo
// (`go func() { for { pkt, _, err := remote.ReadRTP(); ... } }()`):
// one real-time reader loop per upstream source, torn down on error or
// explicit stop.
package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundmesh/sinkmixer/internal/chunk"
)

// SourceMetrics is the per-source telemetry snapshot spec.md §4.3 asks for.
type SourceMetrics struct {
	Depth          int
	HeadAgeMs      float64
	TailAgeMs      float64
	HighWaterDepth int
	Received       uint64
	Popped         uint64
	Dropped        uint64
}

type sourceLane struct {
	instanceID  string
	input       *chunk.BoundedQueue
	stopping    chan struct{}
	wg          sync.WaitGroup
	stoppedOnce sync.Once

	readyMu        sync.Mutex
	ready          []chunk.ReadyChunk
	readyCap       int
	highWater      int
	dropped        uint64
	lastArrival    time.Time
	collectorAlive bool
	drainedPending bool // collector exited since last Harvest

	smoothedBacklogMs float64
	lastRateCommand    float64
}

// Scheduler keys SourceLane state by instance_id.
type Scheduler struct {
	log *zap.Logger

	sourcesMu sync.Mutex
	sources   map[string]*sourceLane

	chunkDurationMs float64
	inputQueueCap   int
}

// New builds a Scheduler. chunkDurationMs and inputQueueCap derive from
// the owning sink's configuration.
func New(log *zap.Logger, chunkDurationMs float64, inputQueueCap int) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		log:             log,
		sources:         make(map[string]*sourceLane),
		chunkDurationMs: chunkDurationMs,
		inputQueueCap:   inputQueueCap,
	}
}

func readyCapacityFor(maxReadyQueueDurationMs int, chunkDurationMs float64, fallbackChunks int) int {
	if chunkDurationMs <= 0 {
		return maxInt(1, fallbackChunks)
	}
	n := int((float64(maxReadyQueueDurationMs) / chunkDurationMs) + 0.999999)
	if n < 1 {
		n = fallbackChunks
	}
	return maxInt(1, n)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AttachSource creates a SourceLane and starts its collector goroutine.
// maxReadyQueueDurationMs/maxReadyChunksPerSource come from
// AudioEngineSettings.
func (s *Scheduler) AttachSource(instanceID string, maxReadyQueueDurationMs, maxReadyChunksPerSource int) *chunk.BoundedQueue {
	s.sourcesMu.Lock()
	defer s.sourcesMu.Unlock()

	input := chunk.NewBoundedQueue(s.inputQueueCap)
	lane := &sourceLane{
		instanceID:     instanceID,
		input:          input,
		stopping:       make(chan struct{}),
		readyCap:       readyCapacityFor(maxReadyQueueDurationMs, s.chunkDurationMs, maxReadyChunksPerSource),
		collectorAlive: true,
	}
	s.sources[instanceID] = lane

	lane.wg.Add(1)
	go s.runCollector(lane)

	return input
}

func (s *Scheduler) runCollector(lane *sourceLane) {
	defer lane.wg.Done()
	for {
		c, ok := lane.input.PopBlocking()
		if !ok {
			lane.readyMu.Lock()
			lane.collectorAlive = false
			lane.drainedPending = true
			lane.readyMu.Unlock()
			return
		}
		rc := chunk.ReadyChunk{ProcessedChunk: c, ArrivalTime: time.Now()}

		lane.readyMu.Lock()
		if len(lane.ready) >= lane.readyCap {
			lane.ready = lane.ready[1:]
			lane.dropped++
		}
		lane.ready = append(lane.ready, rc)
		if len(lane.ready) > lane.highWater {
			lane.highWater = len(lane.ready)
		}
		lane.lastArrival = rc.ArrivalTime
		lane.readyMu.Unlock()
	}
}

// DetachSource stops a source's collector and purges its state.
func (s *Scheduler) DetachSource(instanceID string) {
	s.sourcesMu.Lock()
	lane, ok := s.sources[instanceID]
	if ok {
		delete(s.sources, instanceID)
	}
	s.sourcesMu.Unlock()
	if !ok {
		return
	}

	lane.stoppedOnce.Do(func() {
		close(lane.stopping)
		lane.input.Push(chunk.Sentinel())
		lane.input.Close()
	})
	lane.wg.Wait()
}

// HarvestResult is what Harvest reports back to the mixer for one tick.
type HarvestResult struct {
	Chunks  map[string]chunk.ReadyChunk
	Drained []string
}

// Harvest atomically takes up to one chunk per source from the front of
// each ready deque and reports sources whose collector has exited since
// the previous harvest.
func (s *Scheduler) Harvest() HarvestResult {
	s.sourcesMu.Lock()
	lanes := make([]*sourceLane, 0, len(s.sources))
	for _, l := range s.sources {
		lanes = append(lanes, l)
	}
	s.sourcesMu.Unlock()

	res := HarvestResult{Chunks: make(map[string]chunk.ReadyChunk)}
	for _, lane := range lanes {
		lane.readyMu.Lock()
		if len(lane.ready) > 0 {
			res.Chunks[lane.instanceID] = lane.ready[0]
			lane.ready = lane.ready[1:]
		}
		if lane.drainedPending {
			res.Drained = append(res.Drained, lane.instanceID)
			lane.drainedPending = false
		}
		lane.readyMu.Unlock()
	}
	return res
}

// Metrics returns a point-in-time snapshot for every attached source.
func (s *Scheduler) Metrics() map[string]SourceMetrics {
	s.sourcesMu.Lock()
	lanes := make([]*sourceLane, 0, len(s.sources))
	for _, l := range s.sources {
		lanes = append(lanes, l)
	}
	s.sourcesMu.Unlock()

	out := make(map[string]SourceMetrics, len(lanes))
	now := time.Now()
	for _, lane := range lanes {
		lane.readyMu.Lock()
		received, popped, _ := lane.input.Stats()
		m := SourceMetrics{
			Depth:          len(lane.ready),
			HighWaterDepth: lane.highWater,
			Received:       received,
			Popped:         popped,
			Dropped:        lane.dropped,
		}
		if len(lane.ready) > 0 {
			m.HeadAgeMs = float64(now.Sub(lane.ready[0].ArrivalTime).Milliseconds())
			m.TailAgeMs = float64(now.Sub(lane.ready[len(lane.ready)-1].ArrivalTime).Milliseconds())
		}
		lane.readyMu.Unlock()
		out[lane.instanceID] = m
	}
	return out
}

// BacklogMs returns depth*chunk_duration_ms for the given source, used
// by the rate controller. ok is false if the source is unknown.
func (s *Scheduler) BacklogMs(instanceID string) (ms float64, ok bool) {
	s.sourcesMu.Lock()
	lane, found := s.sources[instanceID]
	s.sourcesMu.Unlock()
	if !found {
		return 0, false
	}
	lane.readyMu.Lock()
	depth := len(lane.ready)
	lane.readyMu.Unlock()
	return float64(depth) * s.chunkDurationMs, true
}

// RateState returns the smoothed backlog and last issued rate-scale
// ratio recorded against a source, used by the rate controller across
// measurement passes. ok is false once the source has been detached,
// at which point the rate controller must evict its own bookkeeping.
func (s *Scheduler) RateState(instanceID string) (smoothedMs, lastRatio float64, ok bool) {
	s.sourcesMu.Lock()
	lane, found := s.sources[instanceID]
	s.sourcesMu.Unlock()
	if !found {
		return 0, 0, false
	}
	lane.readyMu.Lock()
	defer lane.readyMu.Unlock()
	return lane.smoothedBacklogMs, lane.lastRateCommand, true
}

// SetRateState persists the rate controller's updated smoothed backlog
// and last issued ratio for a source. A no-op if the source has since
// been detached.
func (s *Scheduler) SetRateState(instanceID string, smoothedMs, lastRatio float64) {
	s.sourcesMu.Lock()
	lane, found := s.sources[instanceID]
	s.sourcesMu.Unlock()
	if !found {
		return
	}
	lane.readyMu.Lock()
	lane.smoothedBacklogMs = smoothedMs
	lane.lastRateCommand = lastRatio
	lane.readyMu.Unlock()
}

// KnownSources returns the currently attached instance IDs.
func (s *Scheduler) KnownSources() []string {
	s.sourcesMu.Lock()
	defer s.sourcesMu.Unlock()
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	return ids
}
