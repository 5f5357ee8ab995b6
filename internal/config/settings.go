// Package config defines the tuning knobs and per-sink configuration
// shared read-mostly across the mixing engine.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProtocolVariant selects which NetworkSender implementation a sink uses.
type ProtocolVariant string

const (
	ProtocolScreamLegacy  ProtocolVariant = "scream"
	ProtocolRtpL16        ProtocolVariant = "rtp_l16"
	ProtocolRtpOpus       ProtocolVariant = "rtp_opus"
	ProtocolMultiDeviceL16  ProtocolVariant = "multidevice_l16"
	ProtocolMultiDeviceOpus ProtocolVariant = "multidevice_opus"
	ProtocolWebRtcDataChan  ProtocolVariant = "webrtc_datachannel"
	ProtocolSystemAudio     ProtocolVariant = "system_audio"
)

// RtpReceiver describes one destination of a MultiDeviceRtp sender.
type RtpReceiver struct {
	IP        string `yaml:"ip"`
	Port      int    `yaml:"port"`
	LeftIdx   int    `yaml:"left_idx"`
	RightIdx  int    `yaml:"right_idx"`
}

// SinkConfig is immutable after mixer construction except via
// Mixer.Reconfigure.
type SinkConfig struct {
	SinkID            string          `yaml:"sink_id"`
	ProtocolVariant   ProtocolVariant `yaml:"protocol_variant"`
	OutputIP          string          `yaml:"output_ip"`
	OutputPort        int             `yaml:"output_port"`
	OutputSampleRate  int             `yaml:"output_sample_rate"`
	OutputBitDepth    int             `yaml:"output_bit_depth"`
	OutputChannels    int             `yaml:"output_channels"`
	ChannelLayoutMask uint32          `yaml:"channel_layout_mask"`
	MultiDeviceMode   bool            `yaml:"multi_device_mode"`
	RtpReceivers      []RtpReceiver   `yaml:"rtp_receivers"`
	TimeSyncDelayMs   int             `yaml:"time_sync_delay_ms"`
	SpeakerMatrix     [][]float32     `yaml:"speaker_matrix"`
	FramesPerChunk    int             `yaml:"frames_per_chunk"`
}

// Validate enforces the ConfigInvalid constraints from spec.md §7.
func (c SinkConfig) Validate() error {
	switch c.OutputBitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: output_bit_depth %d not in {8,16,24,32}", ErrConfigInvalid, c.OutputBitDepth)
	}
	if c.OutputChannels < 1 || c.OutputChannels > 8 {
		return fmt.Errorf("%w: output_channels %d not in [1,8]", ErrConfigInvalid, c.OutputChannels)
	}
	if c.OutputSampleRate <= 0 {
		return fmt.Errorf("%w: output_sample_rate must be positive", ErrConfigInvalid)
	}
	if c.FramesPerChunk <= 0 {
		return fmt.Errorf("%w: frames_per_chunk must be positive", ErrConfigInvalid)
	}
	if (c.ProtocolVariant == ProtocolRtpOpus || c.ProtocolVariant == ProtocolMultiDeviceOpus) &&
		(c.OutputSampleRate != 48000 || c.OutputBitDepth != 16) {
		return fmt.Errorf("%w: opus senders require 48kHz/16-bit PCM, got %dHz/%d-bit", ErrConfigInvalid, c.OutputSampleRate, c.OutputBitDepth)
	}
	return nil
}

// ChunkDurationMs returns the audio duration, in milliseconds, carried
// by one ProcessedChunk for this sink.
func (c SinkConfig) ChunkDurationMs() float64 {
	return float64(c.FramesPerChunk) * 1000.0 / float64(c.OutputSampleRate)
}

// AudioEngineSettings are the shared, read-mostly mixer tuning knobs.
type AudioEngineSettings struct {
	TargetBufferLevelMs        int     `yaml:"target_buffer_level_ms"`
	BufferToleranceMs          int     `yaml:"buffer_tolerance_ms"`
	MaxSpeedupFactor           float64 `yaml:"max_speedup_factor"`
	DrainSmoothingFactor       float64 `yaml:"drain_smoothing_factor"`
	BufferMeasurementIntervalMs int    `yaml:"buffer_measurement_interval_ms"`
	EnableAdaptiveBufferDrain  bool    `yaml:"enable_adaptive_buffer_drain"`
	UnderrunHoldTimeoutMs      int     `yaml:"underrun_hold_timeout_ms"`
	Mp3OutputQueueMaxSize      int     `yaml:"mp3_output_queue_max_size"`
	Mp3BitrateKbps             int     `yaml:"mp3_bitrate_kbps"`
	Mp3VbrEnabled              bool    `yaml:"mp3_vbr_enabled"`
	MaxReadyQueueDurationMs    int     `yaml:"max_ready_queue_duration_ms"`
	MaxReadyChunksPerSource    int     `yaml:"max_ready_chunks_per_source"`
}

// Default returns the settings the teacher/pack conventions would ship
// as a zero-config starting point.
func Default() AudioEngineSettings {
	return AudioEngineSettings{
		TargetBufferLevelMs:         30,
		BufferToleranceMs:           10,
		MaxSpeedupFactor:            1.10,
		DrainSmoothingFactor:        0.9,
		BufferMeasurementIntervalMs: 100,
		EnableAdaptiveBufferDrain:   true,
		UnderrunHoldTimeoutMs:       50,
		Mp3OutputQueueMaxSize:       64,
		Mp3BitrateKbps:              192,
		Mp3VbrEnabled:               false,
		MaxReadyQueueDurationMs:     200,
		MaxReadyChunksPerSource:     16,
	}
}

// LoadSettings decodes AudioEngineSettings from a YAML file on top of
// Default(), so any field the file leaves out keeps its default value.
func LoadSettings(path string) (AudioEngineSettings, error) {
	s := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return s, nil
}

// LoadSinkConfigs decodes a list of SinkConfig from a YAML file.
func LoadSinkConfigs(path string) ([]SinkConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sinks %s: %w", path, err)
	}
	var out struct {
		Sinks []SinkConfig `yaml:"sinks"`
	}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode sinks %s: %w", path, err)
	}
	for i, sc := range out.Sinks {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("sink[%d] %s: %w", i, sc.SinkID, err)
		}
	}
	return out.Sinks, nil
}
