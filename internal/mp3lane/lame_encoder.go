package mp3lane

import (
	"encoding/binary"
	"fmt"

	"github.com/viert/lame"
)

// callbackWriter adapts the lame.LameWriter's io.Writer sink to a
// plain Go callback so the lane doesn't need to manage a pipe.
type callbackWriter struct {
	onFrame func([]byte)
}

func (w *callbackWriter) Write(p []byte) (int, error) {
	w.onFrame(p)
	return len(p), nil
}

// newLameEncoder configures a lame.LameWriter for 16-bit stereo PCM
// input at sampleRate and wires its compressed output to onFrame.
func newLameEncoder(sampleRate, bitrateKbps int, vbr bool, onFrame func([]byte)) (*lame.LameWriter, error) {
	sink := &callbackWriter{onFrame: onFrame}
	w := lame.NewWriter(sink)
	if w == nil {
		return nil, fmt.Errorf("mp3lane: lame.NewWriter returned nil")
	}
	w.Samplerate = sampleRate
	w.NumChannels = 2
	w.Bitrate = bitrateKbps
	w.Quality = 2
	w.Mode = lame.JOINT_STEREO
	if vbr {
		w.VBR = lame.VBR_MTRH
	}
	return w, nil
}

// writeSamplesHelper converts full-range interleaved int32 stereo
// samples down to 16-bit little-endian PCM (keeping the top 16 bits, as
// the mixer's downscale stage does) and writes them through enc. Kept
// separate from Lane.run so the byte-packing logic is independently
// testable.
func writeSamplesHelper(enc *lame.LameWriter, samples []int32) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s>>16)))
	}
	_, err := enc.Write(buf)
	return err
}
