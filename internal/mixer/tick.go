package mixer

import (
	"time"

	"go.uber.org/zap"

	"github.com/soundmesh/sinkmixer/internal/chunk"
)

// tick runs one full iteration of spec.md §4.5's main loop, steps 2
// through 10. The clock-wait (step 1) happens in loop(); tick is kept
// separate so it can be driven directly and deterministically by tests.
func (m *Mixer) tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners.CleanupClosed()

	harvest := m.sched.Harvest()
	for _, id := range harvest.Drained {
		delete(m.activeBuffers, id)
		m.active[id] = false
	}

	expectedLen := m.cfg.FramesPerChunk * m.cfg.OutputChannels
	anyAccepted := false
	for id, rc := range harvest.Chunks {
		if len(rc.Samples) != expectedLen {
			m.chunkMismatches++
			m.log.Debug("chunk shape mismatch, discarding", zap.String("source_id", id), zap.Int("got", len(rc.Samples)), zap.Int("want", expectedLen))
			continue
		}
		m.activeBuffers[id] = rc.ProcessedChunk
		m.active[id] = true
		anyAccepted = true
	}

	m.runHoldFSM(now, anyAccepted)

	anyActive := false
	for _, a := range m.active {
		if a {
			anyActive = true
			break
		}
	}
	m.wasActiveLast = anyActive

	if !anyActive && m.hold != holdHolding {
		return
	}

	ssrcSet := make(map[uint32]bool)
	for id, ok := range m.active {
		if !ok {
			continue
		}
		c := m.activeBuffers[id]
		m.accumulate(c)
		for _, s := range c.SSRCs {
			ssrcSet[s] = true
		}
	}

	csrcs, truncated := dedupSortTruncateCSRC(ssrcSet)
	if truncated {
		m.csrcTruncations++
	}

	payload := m.downscaleToPayload()
	m.dispatchToPrimary(payload, csrcs)

	if m.listeners.Count() > 0 || m.mp3.Enabled() {
		n := m.stereoPre.Process(m.mixBuf, m.stereoBuf)
		if n > 0 {
			stereoOut := m.stereoBuf[:n]
			m.listeners.DispatchAudio(m.mixBuf, m.cfg.OutputBitDepth, m.cfg.OutputChannels, stereoOut)
			m.mp3.Enqueue(stereoOut)
		}
		for _, frame := range m.mp3.DrainOutput() {
			m.listeners.DispatchMP3(frame)
		}
	}

	for k := range m.mixBuf {
		m.mixBuf[k] = 0
	}
	for id := range m.active {
		m.active[id] = false
	}
}

// runHoldFSM implements the underrun-hold state machine from spec.md
// §4.5 step 4.
func (m *Mixer) runHoldFSM(now time.Time, anyAccepted bool) {
	if anyAccepted {
		m.hold = holdNormal
		return
	}
	if m.hold == holdHolding {
		if now.After(m.holdDeadline) {
			m.hold = holdNormal
		}
		return
	}
	if m.wasActiveLast && m.ctx.Settings.UnderrunHoldTimeoutMs > 0 {
		m.hold = holdHolding
		m.holdDeadline = now.Add(time.Duration(m.ctx.Settings.UnderrunHoldTimeoutMs) * time.Millisecond)
	}
}

// accumulate saturating-adds one source's chunk into the mixing buffer,
// per spec.md §9: int64 accumulation then clamp to int32 range.
func (m *Mixer) accumulate(c chunk.ProcessedChunk) {
	overflowed := false
	for i, s := range c.Samples {
		acc := int64(m.mixBuf[i]) + int64(s)
		clamped := saturateInt32(acc)
		if int64(clamped) != acc {
			overflowed = true
		}
		m.mixBuf[i] = clamped
	}
	if overflowed {
		m.mixOverflows++
	}
}

func saturateInt32(v int64) int32 {
	const maxI32 = int64(1<<31 - 1)
	const minI32 = -int64(1 << 31)
	if v > maxI32 {
		return int32(maxI32)
	}
	if v < minI32 {
		return int32(minI32)
	}
	return int32(v)
}

// dispatchToPrimary sends payload to the primary sender and advances
// telemetry. Send errors are logged, never propagated (spec.md §7
// SendFailed: counters advance regardless, stream recovers next tick).
func (m *Mixer) dispatchToPrimary(payload []byte, csrcs []uint32) {
	if m.primary == nil {
		return
	}
	if err := m.primary.SendPayload(payload, csrcs); err != nil {
		if m.sendFailLog.Allow() {
			m.log.Warn("send failed", zap.Error(err))
		}
	}
	m.framesDispatched += uint64(m.cfg.FramesPerChunk)
}
