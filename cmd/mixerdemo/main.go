// Command mixerdemo is the composition root: it loads engine settings
// and sink configs, wires a synthetic per-sink tone source into the
// mixing engine, and runs until interrupted.
package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/soundmesh/sinkmixer/internal/audioctx"
	"github.com/soundmesh/sinkmixer/internal/chunk"
	"github.com/soundmesh/sinkmixer/internal/config"
	"github.com/soundmesh/sinkmixer/internal/listener"
	"github.com/soundmesh/sinkmixer/internal/mixer"
)

func main() {
	settingsPath := pflag.String("settings", "", "path to engine settings YAML (defaults used if empty)")
	sinksPath := pflag.String("sinks", "", "path to sink list YAML")
	logLevel := pflag.String("log-level", "info", "debug|info|warn|error")
	toneHz := pflag.Float64("tone-hz", 440.0, "synthetic source tone frequency")
	attachLogListener := pflag.Bool("log-listener", false, "attach a demo listener that logs frame counts")
	listenerWantsMultichannel := pflag.Bool("listener-multichannel", false, "the demo listener requests the sink's native channel count instead of stereo")
	pflag.Parse()

	log, err := buildLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mixerdemo: logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, *settingsPath, *sinksPath, *toneHz, *attachLogListener, *listenerWantsMultichannel); err != nil {
		log.Fatal("mixerdemo exited with error", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	case "warn":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(log *zap.Logger, settingsPath, sinksPath string, toneHz float64, attachLogListener, listenerWantsMultichannel bool) error {
	settings := config.Default()
	if settingsPath != "" {
		loaded, err := config.LoadSettings(settingsPath)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		settings = loaded
	}

	sinks, err := loadSinks(sinksPath)
	if err != nil {
		return fmt.Errorf("load sinks: %w", err)
	}

	ctx := audioctx.New(settings, log)

	mixers := make([]*mixer.Mixer, 0, len(sinks))
	stopTones := make([]chan struct{}, 0, len(sinks))
	for _, sc := range sinks {
		m, err := mixer.New(ctx, sc)
		if err != nil {
			for _, running := range mixers {
				running.Stop()
			}
			return fmt.Errorf("construct mixer for sink %s: %w", sc.SinkID, err)
		}
		m.Run()
		log.Info("sink running", zap.String("sink_id", sc.SinkID), zap.String("protocol", string(sc.ProtocolVariant)))

		if attachLogListener {
			m.AddListener(newLogListener(log, sc.SinkID, listenerWantsMultichannel, sc.OutputChannels))
		}

		sourceID := uuid.NewString()
		q := m.AttachSource(sourceID)
		stop := make(chan struct{})
		go runToneSource(q, sc, toneHz, stop)

		mixers = append(mixers, m)
		stopTones = append(stopTones, stop)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	for i, m := range mixers {
		close(stopTones[i])
		m.Stop()
	}
	return nil
}

func loadSinks(path string) ([]config.SinkConfig, error) {
	if path == "" {
		return []config.SinkConfig{defaultDemoSink()}, nil
	}
	return config.LoadSinkConfigs(path)
}

func defaultDemoSink() config.SinkConfig {
	return config.SinkConfig{
		SinkID:           "demo",
		ProtocolVariant:  config.ProtocolScreamLegacy,
		OutputIP:         "127.0.0.1",
		OutputPort:       4010,
		OutputSampleRate: 48000,
		OutputBitDepth:   16,
		OutputChannels:   2,
		FramesPerChunk:   288,
	}
}

// logListener is a minimal listener.Handle that logs a line per frame
// it receives instead of forwarding audio anywhere, demonstrating the
// multichannel-vs-stereo dispatch choice from the command line.
type logListener struct {
	log          *zap.Logger
	id           string
	multichannel bool
	channels     int
	closed       bool
}

func newLogListener(log *zap.Logger, sinkID string, multichannel bool, channels int) *logListener {
	return &logListener{log: log, id: "log-listener-" + sinkID, multichannel: multichannel, channels: channels}
}

func (l *logListener) ID() string             { return l.id }
func (l *logListener) WantsMultichannel() bool { return l.multichannel }
func (l *logListener) ChannelCount() int       { return l.channels }

func (l *logListener) WriteMixed(samples []int32, bitDepth, channels int) error {
	l.log.Debug("listener: mixed frame", zap.String("id", l.id), zap.Int("samples", len(samples)), zap.Int("bit_depth", bitDepth), zap.Int("channels", channels))
	return nil
}

func (l *logListener) WriteStereo(samples []int32) error {
	l.log.Debug("listener: stereo frame", zap.String("id", l.id), zap.Int("samples", len(samples)))
	return nil
}

func (l *logListener) WriteMP3(frame []byte) error {
	l.log.Debug("listener: mp3 frame", zap.String("id", l.id), zap.Int("bytes", len(frame)))
	return nil
}

func (l *logListener) Closed() bool { return l.closed }
func (l *logListener) Close() error { l.closed = true; return nil }

// runToneSource pushes a continuous sine wave into q at roughly the
// sink's chunk cadence, standing in for a real decoded-audio source
// pipeline. Exits when stop is closed.
func runToneSource(q *chunk.BoundedQueue, sc config.SinkConfig, toneHz float64, stop chan struct{}) {
	frames := sc.FramesPerChunk
	channels := sc.OutputChannels
	sampleRate := float64(sc.OutputSampleRate)
	chunkDur := time.Duration(sc.ChunkDurationMs() * float64(time.Millisecond))

	ticker := time.NewTicker(chunkDur)
	defer ticker.Stop()

	const amplitude = 0.2 * float64(1<<31-1)
	phase := 0.0
	phaseStep := 2 * math.Pi * toneHz / sampleRate

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			samples := make([]int32, frames*channels)
			for f := 0; f < frames; f++ {
				v := int32(amplitude * math.Sin(phase))
				phase += phaseStep
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
				for ch := 0; ch < channels; ch++ {
					samples[f*channels+ch] = v
				}
			}
			q.Push(chunk.ProcessedChunk{
				Samples:      samples,
				Channels:     channels,
				SSRCs:        []uint32{1},
				ProducedTime: time.Now(),
			})
		}
	}
}
