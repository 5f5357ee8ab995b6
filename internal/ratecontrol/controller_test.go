package ratecontrol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	backlog map[string]float64
	smooth  map[string]float64
	ratio   map[string]float64
}

func newFakeSource() *fakeSource {
	return &fakeSource{backlog: map[string]float64{}, smooth: map[string]float64{}, ratio: map[string]float64{}}
}

func (f *fakeSource) KnownSources() []string {
	ids := make([]string, 0, len(f.backlog))
	for id := range f.backlog {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeSource) BacklogMs(id string) (float64, bool) {
	v, ok := f.backlog[id]
	return v, ok
}

func (f *fakeSource) RateState(id string) (float64, float64, bool) {
	_, ok := f.backlog[id]
	if !ok {
		return 0, 0, false
	}
	return f.smooth[id], f.ratio[id], true
}

func (f *fakeSource) SetRateState(id string, smoothed, ratio float64) {
	f.smooth[id] = smoothed
	f.ratio[id] = ratio
}

func baseTuning() Tuning {
	return Tuning{
		TargetBufferLevelMs:  30,
		BufferToleranceMs:    10,
		MaxSpeedupFactor:     1.10,
		DrainSmoothingFactor: 0, // alpha=1, no smoothing lag, easier to assert
		ChunkDurationMs:      12,
	}
}

func TestRatioStaysAtOneWithinTolerance(t *testing.T) {
	src := newFakeSource()
	src.backlog["x"] = 35 // within target+tolerance (40ms)
	src.ratio["x"] = 1.0
	c := New(src, baseTuning())

	cmds := c.Tick()
	require.Empty(t, cmds, "ratio within band must not emit a command")
}

func TestRatioIncreasesAboveBandAndCaps(t *testing.T) {
	src := newFakeSource()
	src.backlog["x"] = 120
	src.ratio["x"] = 1.0
	c := New(src, baseTuning())

	cmds := c.Tick()
	require.Len(t, cmds, 1)
	require.Greater(t, float64(cmds[0].Ratio), 1.0)
	require.LessOrEqual(t, float64(cmds[0].Ratio), 1.10)
}

func TestResetToOneEmittedOnce(t *testing.T) {
	src := newFakeSource()
	src.backlog["x"] = 120
	src.ratio["x"] = 1.0
	c := New(src, baseTuning())
	c.Tick() // ramps up

	src.backlog["x"] = 5 // well under tolerance
	cmds := c.Tick()
	require.Len(t, cmds, 1)
	require.InDelta(t, 1.0, float64(cmds[0].Ratio), 1e-9)

	cmds2 := c.Tick()
	require.Empty(t, cmds2, "settled ratio must not re-emit")
}

func TestDecideRatioMonotoneInBacklog(t *testing.T) {
	c := New(newFakeSource(), baseTuning())
	r1 := c.decideRatio(50)
	r2 := c.decideRatio(80)
	require.Greater(t, r2, r1)
}
