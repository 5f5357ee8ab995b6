// Package stereo implements the channel-mixing matrix that downmixes
// an N-channel 32-bit interleaved buffer to 2-channel 32-bit interleaved
// stereo, used for listener fan-out and MP3 encoding regardless of the
// sink's own output channel count.
//
// No pack repo implements a channel-mix matrix; this is plain
// arithmetic grounded directly on spec.md §4.6.
package stereo

// Matrix holds per-output-channel weights over the input channels.
// Row 0 is left, row 1 is right. Weights are applied to each input
// sample and summed, then saturated to int32.
type Matrix struct {
	InputChannels int
	Left          []float64
	Right         []float64
}

// DefaultMatrix builds a sane downmix for a given input channel count:
// mono duplicates to both channels, stereo passes through, and
// everything above mixes front-left/right at full weight and splits
// center/surround/LFE evenly across both output channels.
func DefaultMatrix(inputChannels int) Matrix {
	m := Matrix{
		InputChannels: inputChannels,
		Left:          make([]float64, inputChannels),
		Right:         make([]float64, inputChannels),
	}
	switch inputChannels {
	case 0:
		return m
	case 1:
		m.Left[0], m.Right[0] = 1, 1
	default:
		m.Left[0] = 1
		m.Right[1] = 1
		for ch := 2; ch < inputChannels; ch++ {
			m.Left[ch] = 0.5
			m.Right[ch] = 0.5
		}
	}
	return m
}

// Preprocessor downmixes using a configured Matrix.
type Preprocessor struct {
	matrix Matrix
}

// New builds a Preprocessor for the given matrix.
func New(matrix Matrix) *Preprocessor {
	return &Preprocessor{matrix: matrix}
}

// Process downmixes an N-channel interleaved int32 buffer into out,
// which must have capacity for at least 2*frameCount samples. It
// returns the number of stereo samples written (2*frameCount on
// success), or 0 on a hard processor failure (mismatched channel count
// or empty input), signaling the caller to skip side-chain this tick.
func (p *Preprocessor) Process(in []int32, out []int32) int {
	ch := p.matrix.InputChannels
	if ch <= 0 || len(in)%ch != 0 {
		return 0
	}
	frames := len(in) / ch
	if frames == 0 || len(out) < frames*2 {
		return 0
	}

	for f := 0; f < frames; f++ {
		base := f * ch
		var l, r float64
		for c := 0; c < ch; c++ {
			s := float64(in[base+c])
			l += s * p.matrix.Left[c]
			r += s * p.matrix.Right[c]
		}
		out[f*2] = saturateFloat(l)
		out[f*2+1] = saturateFloat(r)
	}
	return frames * 2
}

func saturateFloat(v float64) int32 {
	if v > float64(int64(1<<31-1)) {
		return 1<<31 - 1
	}
	if v < float64(-(1 << 31)) {
		return -(1 << 31)
	}
	return int32(v)
}
