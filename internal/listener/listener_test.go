package listener

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id           string
	multichannel bool
	channels     int
	closed       atomic.Bool
	mixed        atomic.Int32
	stereo       atomic.Int32
	closes       atomic.Int32
}

func (f *fakeHandle) ID() string                  { return f.id }
func (f *fakeHandle) WantsMultichannel() bool      { return f.multichannel }
func (f *fakeHandle) ChannelCount() int            { return f.channels }
func (f *fakeHandle) WriteMixed(samples []int32, bitDepth, channels int) error {
	f.mixed.Add(1)
	return nil
}
func (f *fakeHandle) WriteStereo(samples []int32) error {
	f.stereo.Add(1)
	return nil
}
func (f *fakeHandle) WriteMP3(frame []byte) error { return nil }
func (f *fakeHandle) Closed() bool                { return f.closed.Load() }
func (f *fakeHandle) Close() error                { f.closes.Add(1); return nil }

func TestAddReplaceClosesOld(t *testing.T) {
	r := New(nil)
	a := &fakeHandle{id: "x"}
	b := &fakeHandle{id: "x"}
	r.Add(a)
	r.Add(b)
	require.EqualValues(t, 1, a.closes.Load())
	require.Equal(t, 1, r.Count())
}

func TestCleanupClosedRemovesOnlyDead(t *testing.T) {
	r := New(nil)
	live := &fakeHandle{id: "live"}
	dead := &fakeHandle{id: "dead"}
	dead.closed.Store(true)
	r.Add(live)
	r.Add(dead)

	n := r.CleanupClosed()
	require.Equal(t, 1, n)
	require.Equal(t, 1, r.Count())
	require.EqualValues(t, 1, dead.closes.Load())
}

func TestDispatchAudioSkipsClosedAndReachesLive(t *testing.T) {
	r := New(nil)
	live := &fakeHandle{id: "live", multichannel: true, channels: 2}
	dead := &fakeHandle{id: "dead", multichannel: true, channels: 2}
	dead.closed.Store(true)
	r.Add(live)
	r.Add(dead)

	r.DispatchAudio([]int32{1, 2}, 16, 2, []int32{1, 2})
	require.EqualValues(t, 1, live.mixed.Load())
	require.EqualValues(t, 0, dead.mixed.Load())
}

func TestDispatchAudioSendsExactlyOneBufferPerListener(t *testing.T) {
	r := New(nil)
	// wants multichannel and matches the mix's channel count: gets the
	// native multichannel buffer only.
	matched := &fakeHandle{id: "matched", multichannel: true, channels: 6}
	// wants multichannel but declares a different channel count than the
	// mix: falls back to stereo.
	mismatched := &fakeHandle{id: "mismatched", multichannel: true, channels: 2}
	// never asked for multichannel: always gets stereo.
	stereoOnly := &fakeHandle{id: "stereo-only"}
	r.Add(matched)
	r.Add(mismatched)
	r.Add(stereoOnly)

	r.DispatchAudio(make([]int32, 6), 16, 6, []int32{1, 2})

	require.EqualValues(t, 1, matched.mixed.Load())
	require.EqualValues(t, 0, matched.stereo.Load())

	require.EqualValues(t, 0, mismatched.mixed.Load())
	require.EqualValues(t, 1, mismatched.stereo.Load())

	require.EqualValues(t, 0, stereoOnly.mixed.Load())
	require.EqualValues(t, 1, stereoOnly.stereo.Load())
}

func TestCloseAllEmptiesRegistry(t *testing.T) {
	r := New(nil)
	r.Add(&fakeHandle{id: "a"})
	r.Add(&fakeHandle{id: "b"})
	r.CloseAll()
	require.Equal(t, 0, r.Count())
}
