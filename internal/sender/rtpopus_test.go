package sender

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesToInt16BigEndian(t *testing.T) {
	b := []byte{0x00, 0x01, 0xff, 0xff}
	out := bytesToInt16(b)
	require.Equal(t, []int16{1, -1}, out)
}

func TestSortedCSRCsDoesNotMutateInput(t *testing.T) {
	in := []uint32{5, 1, 3}
	out := sortedCSRCs(in)
	require.Equal(t, []uint32{1, 3, 5}, out)
	require.Equal(t, []uint32{5, 1, 3}, in)
}
