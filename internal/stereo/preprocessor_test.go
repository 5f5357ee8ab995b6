package stereo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPassthroughStereo(t *testing.T) {
	p := New(DefaultMatrix(2))
	in := []int32{100, -100, 200, -200}
	out := make([]int32, 4)
	n := p.Process(in, out)
	require.Equal(t, 4, n)
	require.Equal(t, []int32{100, -100, 200, -200}, out)
}

func TestMonoDuplicatesToBothChannels(t *testing.T) {
	p := New(DefaultMatrix(1))
	in := []int32{555}
	out := make([]int32, 2)
	n := p.Process(in, out)
	require.Equal(t, 2, n)
	require.Equal(t, []int32{555, 555}, out)
}

func TestMismatchedChannelCountFails(t *testing.T) {
	p := New(DefaultMatrix(2))
	in := []int32{1, 2, 3} // not divisible by 2
	out := make([]int32, 4)
	require.Equal(t, 0, p.Process(in, out))
}

func TestSaturatesOnOverflow(t *testing.T) {
	m := Matrix{InputChannels: 2, Left: []float64{1, 1}, Right: []float64{1, 1}}
	p := New(m)
	in := []int32{math.MaxInt32, math.MaxInt32}
	out := make([]int32, 2)
	p.Process(in, out)
	require.Equal(t, int32(math.MaxInt32), out[0])
}
