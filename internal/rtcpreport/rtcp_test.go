package rtcpreport

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestBuildSenderReportFields(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sr := BuildSenderReport(12345, 48000, 10, 2000, now, 0)
	require.Equal(t, uint32(12345), sr.SSRC)
	require.Equal(t, uint32(48000), sr.RTPTime)
	require.Equal(t, uint32(10), sr.PacketCount)
	require.Equal(t, uint32(2000), sr.OctetCount)
}

func TestNTPTimestampMonotonicWithTime(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	m1, _ := NTPTimestamp(t1, 0)
	m2, _ := NTPTimestamp(t2, 0)
	require.Equal(t, m1+1, m2)
}

func TestParseReceiverReport(t *testing.T) {
	rr := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 42, FractionLost: 5, TotalLost: 3, Jitter: 100},
		},
	}
	buf, err := rr.Marshal()
	require.NoError(t, err)

	summaries, err := Parse(buf)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, uint32(42), summaries[0].SSRC)
	require.Equal(t, uint8(5), summaries[0].FractionLost)
}

func TestParseGoodbyeReason(t *testing.T) {
	bye := &rtcp.Goodbye{Sources: []uint32{7}, Reason: "shutting down"}
	buf, err := bye.Marshal()
	require.NoError(t, err)

	summaries, err := Parse(buf)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "shutting down", summaries[0].ByeReason)
}
