// Package chunk defines the ProcessedChunk/ReadyChunk data model and a
// bounded drop-oldest queue used for producer/consumer hand-off between
// source pipelines and the mixing engine.
//
// The drop-oldest-on-overflow ring is grounded on the same shape as
// cvpipe.Pipeline's bounded subscriber channels in the teacher repo:
// a full buffer never blocks the producer, it sheds the oldest entry
// and counts the overflow instead.
package chunk

import "time"

// ProcessedChunk is a finite, ordered sequence of int32 samples
// produced by a source pipeline. Immutable after construction.
type ProcessedChunk struct {
	Samples      []int32
	Channels     int
	SSRCs        []uint32
	ProducedTime time.Time
}

// FrameCount returns the number of audio frames carried by the chunk.
func (c ProcessedChunk) FrameCount() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Empty reports whether this is the sentinel chunk used to unblock a
// blocking pop on shutdown.
func (c ProcessedChunk) Empty() bool {
	return len(c.Samples) == 0
}

// ReadyChunk is a ProcessedChunk stamped with the collector's observed
// arrival time. Owned exclusively by the scheduler's per-source ready
// deque until harvested by the mixer.
type ReadyChunk struct {
	ProcessedChunk
	ArrivalTime time.Time
}

// Sentinel is the designated "poison pill" pushed to unblock a
// collector's blocking pop during detach/shutdown.
func Sentinel() ProcessedChunk {
	return ProcessedChunk{}
}
