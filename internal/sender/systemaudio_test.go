package sender

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackendFromOutputIP(t *testing.T) {
	require.Equal(t, backendFIFO, backendFromOutputIP("fifo:/tmp/x"))
	require.Equal(t, backendWASAPI, backendFromOutputIP("wasapi:default"))
	require.Equal(t, backendALSA, backendFromOutputIP("192.168.1.5"))
}

func TestPcmToFloat32FullScale(t *testing.T) {
	payload := []byte{0x7f, 0xff, 0x80, 0x00} // +32767, -32768 as 16-bit big-endian
	out := make([]float32, 2)
	pcmToFloat32(payload, 16, out)
	require.InDelta(t, 1.0, out[0], 0.001)
	require.InDelta(t, -1.0, out[1], 0.001)
}
