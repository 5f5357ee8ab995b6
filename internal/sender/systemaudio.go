package sender

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/soundmesh/sinkmixer/internal/config"
)

// systemAudioBackend selects the playback path based on output_ip's
// prefix at construction time, per spec.md §4.9.
type systemAudioBackend int

const (
	backendALSA systemAudioBackend = iota
	backendFIFO
	backendWASAPI
)

func backendFromOutputIP(outputIP string) systemAudioBackend {
	switch {
	case strings.HasPrefix(outputIP, "fifo:"):
		return backendFIFO
	case strings.HasPrefix(outputIP, "wasapi:"):
		return backendWASAPI
	default:
		return backendALSA
	}
}

// SystemAudio plays the sink's mix directly on a local output device
// via portaudio (ALSA/WASAPI, chosen by the host's default backend) or
// writes raw frames to a named FIFO. It implements FormatNegotiator,
// but Setup opens the stream or FIFO with exactly the configured sample
// rate, channel count and bit depth and reports those same values; it
// does not fall back to a different format.
type SystemAudio struct {
	cfg     config.SinkConfig
	backend systemAudioBackend

	mu     sync.Mutex
	stream *portaudio.Stream
	fifo   *os.File
	buf    []float32

	negSampleRate, negChannels, negBitDepth int
	negotiated                              bool

	closeOnce sync.Once
}

// NewSystemAudio constructs the sender without opening the device;
// Setup performs the actual stream/file open so construction-time
// failures (per spec.md §7, SystemAudio is best-effort: the mixer
// continues even if Setup fails) don't abort mixer startup.
func NewSystemAudio(cfg config.SinkConfig) (*SystemAudio, error) {
	return &SystemAudio{
		cfg:     cfg,
		backend: backendFromOutputIP(cfg.OutputIP),
	}, nil
}

// Setup opens the playback device or FIFO. Failures here are
// best-effort per spec.md §7: the caller should log and continue
// rather than treat this as fatal for network sinks.
func (s *SystemAudio) Setup() error {
	switch s.backend {
	case backendFIFO:
		path := strings.TrimPrefix(s.cfg.OutputIP, "fifo:")
		f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("%w: open fifo %s: %v", ErrSetupFailed, path, err)
		}
		s.fifo = f
		s.negSampleRate, s.negChannels, s.negBitDepth = s.cfg.OutputSampleRate, s.cfg.OutputChannels, s.cfg.OutputBitDepth
		s.negotiated = true
		return nil
	default: // ALSA and WASAPI both go through portaudio's default host API
		devices, err := portaudio.Devices()
		if err != nil {
			return fmt.Errorf("%w: portaudio devices: %v", ErrSetupFailed, err)
		}
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return fmt.Errorf("%w: default output device: %v", ErrSetupFailed, err)
		}
		_ = devices

		framesPerBuffer := s.cfg.FramesPerChunk
		if framesPerBuffer <= 0 {
			framesPerBuffer = 480
		}
		buf := make([]float32, framesPerBuffer*s.cfg.OutputChannels)
		params := portaudio.StreamParameters{
			Output: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: s.cfg.OutputChannels,
				Latency:  dev.DefaultLowOutputLatency,
			},
			SampleRate:      float64(s.cfg.OutputSampleRate),
			FramesPerBuffer: framesPerBuffer,
		}
		stream, err := portaudio.OpenStream(params, buf)
		if err != nil {
			return fmt.Errorf("%w: open playback stream: %v", ErrSetupFailed, err)
		}
		if err := stream.Start(); err != nil {
			_ = stream.Close()
			return fmt.Errorf("%w: start playback stream: %v", ErrSetupFailed, err)
		}
		s.stream = stream
		s.buf = buf
		s.negSampleRate = s.cfg.OutputSampleRate
		s.negChannels = s.cfg.OutputChannels
		s.negBitDepth = s.cfg.OutputBitDepth
		s.negotiated = true
		return nil
	}
}

// NegotiatedFormat reports the format actually in effect after Setup,
// per the FormatNegotiator contract.
func (s *SystemAudio) NegotiatedFormat() (sampleRate, channels, bitDepth int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negSampleRate, s.negChannels, s.negBitDepth, s.negotiated
}

// SendPayload writes payload to the FIFO, or converts it to float32
// and writes it to the portaudio stream. csrcs carries no meaning for
// local playback.
func (s *SystemAudio) SendPayload(payload []byte, csrcs []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fifo != nil {
		_, err := s.fifo.Write(payload)
		return err
	}
	if s.stream == nil {
		return nil
	}
	pcmToFloat32(payload, s.negBitDepth, s.buf)
	return s.stream.Write()
}

// pcmToFloat32 converts big-endian signed PCM at the given bit depth
// into the [-1,1] float32 samples portaudio's stream API expects.
func pcmToFloat32(payload []byte, bitDepth int, out []float32) {
	bytesPerSample := bitDepth / 8
	n := len(payload) / bytesPerSample
	if n > len(out) {
		n = len(out)
	}
	var scale float32 = 1 << (uint(bitDepth) - 1)
	for i := 0; i < n; i++ {
		off := i * bytesPerSample
		var v int32
		switch bytesPerSample {
		case 2:
			v = int32(int16(uint16(payload[off])<<8 | uint16(payload[off+1])))
		case 3:
			v = int32(payload[off])<<16 | int32(payload[off+1])<<8 | int32(payload[off+2])
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
		case 4:
			v = int32(uint32(payload[off])<<24 | uint32(payload[off+1])<<16 | uint32(payload[off+2])<<8 | uint32(payload[off+3]))
		}
		out[i] = float32(v) / scale
	}
}

// Close stops and closes the stream or FIFO. Idempotent.
func (s *SystemAudio) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stream != nil {
			_ = s.stream.Stop()
			err = s.stream.Close()
			s.stream = nil
		}
		if s.fifo != nil {
			err = s.fifo.Close()
			s.fifo = nil
		}
	})
	return err
}
