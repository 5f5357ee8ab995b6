package sender

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelMapStringIdentityOrder(t *testing.T) {
	require.Equal(t, "6 0,1,2,3,4,5", channelMapString(6, 0))
}
