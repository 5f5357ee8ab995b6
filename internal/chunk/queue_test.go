package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoundedQueueFIFO(t *testing.T) {
	q := NewBoundedQueue(4)
	for i := 0; i < 3; i++ {
		q.Push(ProcessedChunk{Samples: []int32{int32(i)}, Channels: 1})
	}
	for i := 0; i < 3; i++ {
		c, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, int32(i), c.Samples[0])
	}
	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestBoundedQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewBoundedQueue(2)
	q.Push(ProcessedChunk{Samples: []int32{1}, Channels: 1})
	q.Push(ProcessedChunk{Samples: []int32{2}, Channels: 1})
	q.Push(ProcessedChunk{Samples: []int32{3}, Channels: 1})

	c, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, int32(2), c.Samples[0], "oldest (1) must have been dropped")

	_, _, overflow := q.Stats()
	require.Equal(t, uint64(1), overflow)
}

func TestBoundedQueuePopBlockingUnblocksOnClose(t *testing.T) {
	q := NewBoundedQueue(2)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopBlocking()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not unblock on Close")
	}
}

func TestBoundedQueuePopBlockingUnblocksOnSentinel(t *testing.T) {
	q := NewBoundedQueue(2)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopBlocking()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Push(Sentinel())

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not unblock on sentinel")
	}
}
