package mp3lane

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledLaneIsNoop(t *testing.T) {
	l := &Lane{enabled: false}
	l.Enqueue([]int32{1, 2, 3, 4})
	require.Empty(t, l.DrainOutput())
	l.Stop() // must not block or panic
}

func TestPcmOverflowDropsOldest(t *testing.T) {
	l := &Lane{enabled: true, pcmCap: 2}
	l.cond = sync.NewCond(&l.mu)
	l.Enqueue([]int32{1})
	l.Enqueue([]int32{2})
	l.Enqueue([]int32{3})

	_, _ = l.Stats()
	require.Equal(t, 2, len(l.pcmQueue))
	require.Equal(t, int32(2), l.pcmQueue[0].samples[0])
	require.Equal(t, int32(3), l.pcmQueue[1].samples[0])
	require.EqualValues(t, 1, l.pcmDrops)
}

func TestOutputOverflowDropsOldestAndCounts(t *testing.T) {
	l := &Lane{enabled: true, outCap: 1}
	l.pushOutput([]byte{1})
	l.pushOutput([]byte{2})

	pcmDrops, outDrops := l.Stats()
	require.EqualValues(t, 0, pcmDrops)
	require.EqualValues(t, 1, outDrops)
	require.Equal(t, [][]byte{{2}}, l.DrainOutput())
	require.Nil(t, l.DrainOutput())
}
