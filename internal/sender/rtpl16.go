package sender

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/soundmesh/sinkmixer/internal/config"
	"github.com/soundmesh/sinkmixer/internal/rtcpreport"
	"github.com/soundmesh/sinkmixer/internal/rtpsession"
	"github.com/soundmesh/sinkmixer/internal/sap"
)

const (
	rtpL16PayloadType  = 127
	rtpL16MTUBytes     = 1152
	sapInterval        = 5 * time.Second
	rtcpSRInterval     = 5 * time.Second
	rtcpReadTimeout    = 100 * time.Millisecond
)

// RtpL16 sends the mixer's native PCM as RTP with payload type 127,
// advertising itself via SAP and reporting via RTCP SR, per spec.md §4.9.
type RtpL16 struct {
	cfg  config.SinkConfig
	deps Dependencies
	core *rtpsession.Core

	bytesPerSample int

	announcer *sap.Announcer
	rtcpConn  *net.UDPConn

	stop chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewRtpL16 constructs the RTP session core, SAP announcer, and RTCP
// socket; Setup starts their background loops.
func NewRtpL16(cfg config.SinkConfig, deps Dependencies) (*RtpL16, error) {
	core, err := rtpsession.New(cfg.OutputIP, cfg.OutputPort, rtpL16PayloadType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	if deps.ReserveSSRC != nil {
		deps.ReserveSSRC(core.SSRC)
	}

	r := &RtpL16{
		cfg:            cfg,
		deps:           deps,
		core:           core,
		bytesPerSample: cfg.OutputBitDepth / 8,
		stop:           make(chan struct{}),
	}
	return r, nil
}

// Setup starts the SAP and RTCP background loops.
func (r *RtpL16) Setup() error {
	ann, err := sap.New(sap.AddrGlobal, sapInterval, r.buildSAPPacket)
	if err != nil {
		return fmt.Errorf("%w: sap: %v", ErrSetupFailed, err)
	}
	r.announcer = ann
	r.announcer.Start()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("%w: rtcp listen: %v", ErrSetupFailed, err)
	}
	r.rtcpConn = conn

	r.wg.Add(2)
	go r.rtcpSendLoop()
	go r.rtcpReceiveLoop()
	return nil
}

func (r *RtpL16) buildSAPPacket() []byte {
	p := sap.SDPParams{
		SSRC:        r.core.SSRC,
		SinkID:      r.cfg.SinkID,
		SrcIP:       localOutboundIP(r.cfg.OutputIP),
		DstIP:       r.cfg.OutputIP,
		DstPort:     r.cfg.OutputPort,
		PayloadType: rtpL16PayloadType,
		Codec:       "L16",
		ClockRate:   r.cfg.OutputSampleRate,
		Channels:    r.cfg.OutputChannels,
	}
	if r.cfg.OutputChannels >= 3 {
		p.ChannelMap = channelMapString(r.cfg.OutputChannels, r.cfg.ChannelLayoutMask)
	}
	sdp := sap.BuildSDP(p)
	srcIP := net.ParseIP(p.SrcIP)
	return sap.BuildPacket(r.core.Sequence(), srcIP, sdp)
}

// channelMapString renders "<channels> idx0,idx1,..." using identity
// ordering. The channel layout mask is not consulted, so the map does
// not reflect the configured layout.
func channelMapString(channels int, _ uint32) string {
	idx := make([]string, channels)
	for i := range idx {
		idx[i] = fmt.Sprintf("%d", i)
	}
	return fmt.Sprintf("%d %s", channels, strings.Join(idx, ","))
}

func (r *RtpL16) rtcpSendLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(rtcpSRInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			packets, octets := r.core.Counts()
			sr := rtcpreport.BuildSenderReport(r.core.SSRC, r.core.Timestamp(), uint32(packets), uint32(octets), time.Now(), time.Duration(r.cfg.TimeSyncDelayMs)*time.Millisecond)
			buf, err := (&rtcp.CompoundPacket{sr}).Marshal()
			if err != nil {
				continue
			}
			_, _ = r.rtcpConn.WriteToUDP(buf, &net.UDPAddr{IP: net.ParseIP(r.cfg.OutputIP), Port: r.cfg.OutputPort + 1})
		}
	}
}

func (r *RtpL16) rtcpReceiveLoop() {
	defer r.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		_ = r.rtcpConn.SetReadDeadline(time.Now().Add(rtcpReadTimeout))
		n, _, err := r.rtcpConn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		summaries, err := rtcpreport.Parse(buf[:n])
		if err != nil {
			continue
		}
		_ = summaries // parsed and then discarded; nothing logs or stores them.
	}
}

// SendPayload slices payload at the MTU and emits one RTP packet per
// slice with the marker bit set on the final slice. payload arrives
// from the mixer's downscale stage already in network (big-endian)
// byte order, per spec.md §4.5 step 7, so it is sent as-is.
func (r *RtpL16) SendPayload(payload []byte, csrcs []uint32) error {
	sorted := append([]uint32(nil), csrcs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	bytesPerFrame := r.bytesPerSample * r.cfg.OutputChannels
	slices := rtpsession.SliceMTU(payload, rtpL16MTUBytes, bytesPerFrame)
	frames := len(payload) / bytesPerFrame
	r.core.AdvanceTimestamp(uint32(frames))

	for i, slice := range slices {
		marker := i == len(slices)-1
		r.core.SendRTPPacket(slice, sorted, marker)
	}
	return nil
}

// localOutboundIP picks the local interface address used to reach dst,
// falling back to dst itself if the lookup fails (loopback/test targets).
func localOutboundIP(dst string) string {
	conn, err := net.Dial("udp", net.JoinHostPort(dst, "9"))
	if err != nil {
		return dst
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// Close stops the SAP/RTCP loops and releases the RTP session core and
// reserved SSRC. Idempotent.
func (r *RtpL16) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		if r.announcer != nil {
			r.announcer.Stop()
		}
		if r.rtcpConn != nil {
			_ = r.rtcpConn.Close()
		}
		r.wg.Wait()
		if r.deps.ReleaseSSRC != nil {
			r.deps.ReleaseSSRC(r.core.SSRC)
		}
		_ = r.core.Close()
	})
	return nil
}
