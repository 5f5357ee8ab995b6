package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundmesh/sinkmixer/internal/chunk"
)

func TestHarvestIsFIFOPerSource(t *testing.T) {
	s := New(nil, 12, 32)
	in := s.AttachSource("src-a", 200, 16)
	defer s.DetachSource("src-a")

	for i := 0; i < 5; i++ {
		in.Push(chunk.ProcessedChunk{Samples: []int32{int32(i)}, Channels: 1})
	}
	time.Sleep(30 * time.Millisecond)

	for i := 0; i < 5; i++ {
		res := s.Harvest()
		c, ok := res.Chunks["src-a"]
		require.True(t, ok, "expected chunk %d", i)
		require.Equal(t, int32(i), c.Samples[0])
	}
}

func TestHarvestReportsDrainedSource(t *testing.T) {
	s := New(nil, 12, 32)
	in := s.AttachSource("src-a", 200, 16)
	in.Push(chunk.Sentinel())
	in.Close()
	time.Sleep(30 * time.Millisecond)

	res := s.Harvest()
	require.Contains(t, res.Drained, "src-a")

	res2 := s.Harvest()
	require.NotContains(t, res2.Drained, "src-a", "drained flag must be one-shot")
	s.DetachSource("src-a")
}

func TestReadyDequeDropsOldestWhenFull(t *testing.T) {
	s := New(nil, 10, 32)
	// max_ready_queue_duration_ms=20, chunk=10ms -> capacity 2
	in := s.AttachSource("src-a", 20, 16)
	defer s.DetachSource("src-a")

	for i := 0; i < 4; i++ {
		in.Push(chunk.ProcessedChunk{Samples: []int32{int32(i)}, Channels: 1})
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	first := s.Harvest()
	c, ok := first.Chunks["src-a"]
	require.True(t, ok)
	require.Equal(t, int32(2), c.Samples[0], "oldest entries should have been evicted")
}

func TestDetachPurgesRateState(t *testing.T) {
	s := New(nil, 12, 32)
	s.AttachSource("src-a", 200, 16)
	s.SetRateState("src-a", 42.0, 1.05)
	s.DetachSource("src-a")

	_, _, ok := s.RateState("src-a")
	require.False(t, ok)
}
