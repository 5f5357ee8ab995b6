// Package mixer implements the Sink Mixer Core: the real-time loop
// that waits on the clock, harvests ready chunks from the scheduler,
// mixes with saturation, downscales, dispatches to the primary sender,
// and drives the stereo side-chain for listeners and MP3 encoding.
//
// The tick-driven main loop with a dedicated stop channel, joined on
// Stop, mirrors sfuPeer's writePumpSFU/readPumpSFU lifecycle in the
// teacher repo: one goroutine per responsibility, a closed channel as
// the shutdown signal, and WaitGroup-joined teardown.
package mixer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/soundmesh/sinkmixer/internal/audioctx"
	"github.com/soundmesh/sinkmixer/internal/chunk"
	"github.com/soundmesh/sinkmixer/internal/clock"
	"github.com/soundmesh/sinkmixer/internal/config"
	"github.com/soundmesh/sinkmixer/internal/listener"
	"github.com/soundmesh/sinkmixer/internal/mp3lane"
	"github.com/soundmesh/sinkmixer/internal/ratecontrol"
	"github.com/soundmesh/sinkmixer/internal/scheduler"
	"github.com/soundmesh/sinkmixer/internal/sender"
	"github.com/soundmesh/sinkmixer/internal/stereo"
)

const maxCSRC = 15

// holdState is the underrun-hold FSM from spec.md §4.5 step 4.
type holdState int

const (
	holdNormal holdState = iota
	holdHolding
)

// Stats is the telemetry snapshot exposed by Stats(), a supplemented
// feature beyond the original per-tick logging the spec describes in
// prose (spec.md §4.5 step 10).
type Stats struct {
	SinkID            string
	Holding           bool
	ActiveSources     int
	FramesDispatched  uint64
	MixOverflows      uint64
	ChunkMismatches   uint64
	CSRCTruncations   uint64
	StagingOverflows  uint64
	SourceMetrics     map[string]scheduler.SourceMetrics
	MP3PCMDrops       uint64
	MP3OutputDrops    uint64
	ListenerCount     int
}

// Mixer owns one sink's scheduler, sender, listener registry, stereo
// preprocessor, and MP3 lane, per spec.md §3's ownership rules.
type Mixer struct {
	log *zap.Logger
	ctx *audioctx.SharedContext

	mu  sync.Mutex
	cfg config.SinkConfig

	sched        *scheduler.Scheduler
	rateCtl      *ratecontrol.Controller
	clockHandle  *clock.ConditionHandle
	primary      sender.NetworkSender
	listeners    *listener.Registry
	stereoPre    *stereo.Preprocessor
	mp3          *mp3lane.Lane

	activeBuffers map[string]chunk.ProcessedChunk
	active        map[string]bool
	wasActiveLast bool

	hold         holdState
	holdDeadline time.Time

	mixBuf    []int32
	stereoBuf []int32
	csrcSet   []uint32

	framesDispatched uint64
	mixOverflows     uint64
	chunkMismatches  uint64
	csrcTruncations  uint64
	stagingOverflows uint64

	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup

	rateTickerStop chan struct{}

	// sendFailLog throttles repeated SendFailed log lines so a
	// persistently broken transport doesn't flood the log at tick rate.
	sendFailLog *rate.Limiter
}

// New validates cfg, builds the scheduler/sender/listener/preprocessor
// stack, and registers against the shared clock manager. Construction
// failures for network sender variants are fatal (spec.md §7
// SenderSetupFailed); SystemAudio failures are tolerated by the mixer
// continuing with a nil-effect sender.
func New(ctx *audioctx.SharedContext, cfg config.SinkConfig) (*Mixer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := ctx.Log.With(zap.String("sink_id", cfg.SinkID))

	snd, err := sender.New(cfg, sender.Dependencies{ReserveSSRC: ctx.ReserveSSRC, ReleaseSSRC: ctx.ReleaseSSRC})
	if err != nil {
		if cfg.ProtocolVariant == config.ProtocolSystemAudio {
			log.Warn("system audio sender construction failed, continuing without playback", zap.Error(err))
			snd = nil
		} else {
			return nil, err
		}
	}
	if snd != nil && !sender.NeedsDeferredSetup(snd) {
		if err := snd.Setup(); err != nil {
			if cfg.ProtocolVariant == config.ProtocolSystemAudio {
				log.Warn("system audio setup failed, continuing without playback", zap.Error(err))
				snd = nil
			} else {
				return nil, fmt.Errorf("mixer: sender setup for sink %s: %w", cfg.SinkID, err)
			}
		}
	}

	chunkDurationMs := cfg.ChunkDurationMs()
	sched := scheduler.New(log, chunkDurationMs, ctx.Settings.MaxReadyChunksPerSource*2)

	var rateCtl *ratecontrol.Controller
	if ctx.Settings.EnableAdaptiveBufferDrain {
		rateCtl = ratecontrol.New(sched, ratecontrol.Tuning{
			TargetBufferLevelMs:  ctx.Settings.TargetBufferLevelMs,
			BufferToleranceMs:    ctx.Settings.BufferToleranceMs,
			MaxSpeedupFactor:     ctx.Settings.MaxSpeedupFactor,
			DrainSmoothingFactor: ctx.Settings.DrainSmoothingFactor,
			ChunkDurationMs:      chunkDurationMs,
		})
	}

	matrix := stereo.DefaultMatrix(cfg.OutputChannels)
	if len(cfg.SpeakerMatrix) == 2 {
		matrix = stereo.Matrix{InputChannels: cfg.OutputChannels, Left: toFloat64(cfg.SpeakerMatrix[0]), Right: toFloat64(cfg.SpeakerMatrix[1])}
	}

	handle := ctx.Clock.Register(clock.Key{
		SampleRate:     cfg.OutputSampleRate,
		Channels:       cfg.OutputChannels,
		BitDepth:       cfg.OutputBitDepth,
		FramesPerChunk: cfg.FramesPerChunk,
	})

	m := &Mixer{
		log:           log,
		ctx:           ctx,
		cfg:           cfg,
		sched:         sched,
		rateCtl:       rateCtl,
		clockHandle:   handle,
		primary:       snd,
		listeners:     listener.New(log),
		stereoPre:     stereo.New(matrix),
		mp3:           mp3lane.New(log, cfg.OutputSampleRate, ctx.Settings.Mp3BitrateKbps, ctx.Settings.Mp3VbrEnabled, ctx.Settings.Mp3OutputQueueMaxSize, ctx.Settings.Mp3OutputQueueMaxSize),
		activeBuffers: make(map[string]chunk.ProcessedChunk),
		active:        make(map[string]bool),
		mixBuf:        make([]int32, cfg.FramesPerChunk*cfg.OutputChannels),
		stereoBuf:     make([]int32, cfg.FramesPerChunk*2),
		stop:          make(chan struct{}),
		sendFailLog:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
	m.updatePlaybackFormatFromSender()
	return m, nil
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// AttachSource registers a new source lane and returns the bounded
// queue the source pipeline should push ProcessedChunks into.
func (m *Mixer) AttachSource(instanceID string) *chunk.BoundedQueue {
	return m.sched.AttachSource(instanceID, m.ctx.Settings.MaxReadyQueueDurationMs, m.ctx.Settings.MaxReadyChunksPerSource)
}

// DetachSource tears down a source lane.
func (m *Mixer) DetachSource(instanceID string) {
	m.sched.DetachSource(instanceID)
}

// AddListener registers a fan-out listener. The registry performs no
// setup of its own: a handle whose transport is not ready yet receives
// writes like any other and must ignore them itself until attached.
func (m *Mixer) AddListener(h listener.Handle) {
	m.listeners.Add(h)
}

// RemoveListener unregisters and closes a listener.
func (m *Mixer) RemoveListener(id string) {
	m.listeners.Remove(id)
}

// Run starts the main mixer loop on its own goroutine and the rate
// controller's measurement ticker, if adaptive drain is enabled.
func (m *Mixer) Run() {
	m.wg.Add(1)
	go m.loop()

	if m.rateCtl != nil {
		m.rateTickerStop = make(chan struct{})
		m.wg.Add(1)
		go m.rateLoop()
	}
}

func (m *Mixer) rateLoop() {
	defer m.wg.Done()
	interval := time.Duration(m.ctx.Settings.BufferMeasurementIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.rateTickerStop:
			return
		case <-ticker.C:
			cmds := m.rateCtl.Tick()
			for _, cmd := range cmds {
				m.log.Debug("rate command", zap.String("source_id", cmd.InstanceID), zap.Float32("ratio", cmd.Ratio))
			}
		}
	}
}

func (m *Mixer) loop() {
	defer m.wg.Done()
	for {
		_, ok := m.clockHandle.Wait()
		if !ok {
			return
		}
		select {
		case <-m.stop:
			return
		default:
		}
		m.tick(time.Now())
	}
}

// Stop requests the main loop to exit, unregisters from the clock
// manager, stops the MP3 lane, closes every listener and the primary
// sender. Idempotent.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stop)
	m.clockHandle.RequestStop()
	if m.rateTickerStop != nil {
		close(m.rateTickerStop)
	}
	m.wg.Wait()

	m.ctx.Clock.Unregister(m.clockHandle)
	m.mp3.Stop()
	m.listeners.CloseAll()
	if m.primary != nil {
		_ = m.primary.Close()
	}
}

// Reconfigure swaps in a new SinkConfig for fields safe to change
// without tearing down the transport (stereo matrix, time-sync delay,
// channel layout mask). Transport-affecting fields (protocol variant,
// output address, sample rate/bit depth/channels/frames-per-chunk)
// require constructing a new Mixer instead, since they change buffer
// shapes and clock-line registration.
func (m *Mixer) Reconfigure(next config.SinkConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if next.ProtocolVariant != m.cfg.ProtocolVariant ||
		next.OutputSampleRate != m.cfg.OutputSampleRate ||
		next.OutputBitDepth != m.cfg.OutputBitDepth ||
		next.OutputChannels != m.cfg.OutputChannels ||
		next.FramesPerChunk != m.cfg.FramesPerChunk {
		return fmt.Errorf("mixer: reconfigure cannot change transport shape for sink %s; construct a new mixer", m.cfg.SinkID)
	}

	matrix := stereo.DefaultMatrix(next.OutputChannels)
	if len(next.SpeakerMatrix) == 2 {
		matrix = stereo.Matrix{InputChannels: next.OutputChannels, Left: toFloat64(next.SpeakerMatrix[0]), Right: toFloat64(next.SpeakerMatrix[1])}
	}
	m.stereoPre = stereo.New(matrix)
	m.cfg = next
	return nil
}

// updatePlaybackFormatFromSender picks up a SystemAudio sender's
// renegotiated format after Setup, per spec.md §4.9's
// update_playback_format_from_sender() callback.
func (m *Mixer) updatePlaybackFormatFromSender() {
	neg, ok := m.primary.(sender.FormatNegotiator)
	if !ok {
		return
	}
	sr, ch, bd, ok := neg.NegotiatedFormat()
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sr > 0 {
		m.cfg.OutputSampleRate = sr
	}
	if ch > 0 {
		m.cfg.OutputChannels = ch
	}
	if bd > 0 {
		m.cfg.OutputBitDepth = bd
	}
}

// Stats returns a point-in-time telemetry snapshot.
func (m *Mixer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	pcmDrops, outDrops := m.mp3.Stats()
	return Stats{
		SinkID:           m.cfg.SinkID,
		Holding:          m.hold == holdHolding,
		ActiveSources:    len(m.active),
		FramesDispatched: m.framesDispatched,
		MixOverflows:     m.mixOverflows,
		ChunkMismatches:  m.chunkMismatches,
		CSRCTruncations:  m.csrcTruncations,
		StagingOverflows: m.stagingOverflows,
		SourceMetrics:    m.sched.Metrics(),
		MP3PCMDrops:      pcmDrops,
		MP3OutputDrops:   outDrops,
		ListenerCount:    m.listeners.Count(),
	}
}

// dedupSortTruncateCSRC implements spec.md §9's CSRC truncation policy:
// sort the contributing SSRC set and truncate to 15 if it exceeds the
// RTP limit, counting the truncation.
func dedupSortTruncateCSRC(ssrcSet map[uint32]bool) ([]uint32, bool) {
	out := make([]uint32, 0, len(ssrcSet))
	for s := range ssrcSet {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	truncated := false
	if len(out) > maxCSRC {
		out = out[:maxCSRC]
		truncated = true
	}
	return out, truncated
}
