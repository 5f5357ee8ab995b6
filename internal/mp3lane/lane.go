// Package mp3lane implements the dedicated MP3 encoder worker: a
// bounded PCM input queue, a worker goroutine that encodes one frame
// per iteration via the external lame codec, and a bounded output queue
// consumed by external listeners (spec.md §4.7).
//
// The worker-loop-with-condvar-and-two-bounded-queues shape, including
// drop-oldest-on-overflow, is grounded on cvpipe.Pipeline in the
// teacher repo: a decode goroutine and an encode/broadcast goroutine
// each fed by a bounded channel that sheds load instead of blocking the
// real-time producer.
package mp3lane

import (
	"sync"

	"github.com/viert/lame"
	"go.uber.org/zap"
)

type pcmFrame struct {
	samples []int32 // interleaved stereo
}

// Lane owns the bounded PCM input queue, the worker goroutine, and the
// bounded MP3 output queue.
type Lane struct {
	log *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pcmQueue []pcmFrame
	pcmCap   int
	pcmDrops uint64

	outMu     sync.Mutex
	outQueue  [][]byte
	outCap    int
	outDrops  uint64

	enabled bool
	stop    chan struct{}
	wg      sync.WaitGroup

	enc *lame.LameWriter
}

// New constructs and starts the MP3 lane. sampleRate/bitrateKbps/vbr
// configure the codec. If codec init fails, the lane is returned
// disabled for the lifetime of the mixer (fail-open per spec.md §4.7)
// and enqueue/drain become no-ops rather than an error the mixer must
// handle.
func New(log *zap.Logger, sampleRate, bitrateKbps int, vbr bool, pcmCap, outCap int) *Lane {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Lane{
		log:     log,
		pcmCap:  pcmCap,
		outCap:  outCap,
		stop:    make(chan struct{}),
		enabled: true,
	}
	l.cond = sync.NewCond(&l.mu)

	enc, err := newLameEncoder(sampleRate, bitrateKbps, vbr, func(b []byte) {
		l.pushOutput(b)
	})
	if err != nil {
		log.Warn("mp3lane: codec init failed, lane disabled", zap.Error(err))
		l.enabled = false
		return l
	}
	l.enc = enc

	l.wg.Add(1)
	go l.run()
	return l
}

// Enabled reports whether the codec initialized successfully.
func (l *Lane) Enabled() bool {
	return l.enabled
}

// Enqueue copies interleaved int32 stereo samples into the bounded PCM
// deque, dropping the oldest frame on overflow. No-op if the lane is
// disabled.
func (l *Lane) Enqueue(samples []int32) {
	if !l.enabled {
		return
	}
	cp := make([]int32, len(samples))
	copy(cp, samples)

	l.mu.Lock()
	if len(l.pcmQueue) >= l.pcmCap {
		l.pcmQueue = l.pcmQueue[1:]
		l.pcmDrops++
	}
	l.pcmQueue = append(l.pcmQueue, pcmFrame{samples: cp})
	l.cond.Signal()
	l.mu.Unlock()
}

func (l *Lane) run() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		for len(l.pcmQueue) == 0 {
			select {
			case <-l.stop:
				l.mu.Unlock()
				l.flush()
				return
			default:
			}
			l.cond.Wait()
			select {
			case <-l.stop:
				l.mu.Unlock()
				l.flush()
				return
			default:
			}
		}
		f := l.pcmQueue[0]
		l.pcmQueue = l.pcmQueue[1:]
		l.mu.Unlock()

		if err := writeSamplesHelper(l.enc, f.samples); err != nil {
			l.log.Warn("mp3lane: encode failed, dropping frame", zap.Error(err))
		}
	}
}

func (l *Lane) flush() {
	if l.enc != nil {
		_ = l.enc.Close()
	}
}

func (l *Lane) pushOutput(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)

	l.outMu.Lock()
	defer l.outMu.Unlock()
	if len(l.outQueue) >= l.outCap {
		l.outQueue = l.outQueue[1:]
		l.outDrops++
	}
	l.outQueue = append(l.outQueue, cp)
}

// DrainOutput pops and returns every buffered MP3 frame since the last call.
func (l *Lane) DrainOutput() [][]byte {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	if len(l.outQueue) == 0 {
		return nil
	}
	out := l.outQueue
	l.outQueue = nil
	return out
}

// Stats reports drop counters for telemetry.
func (l *Lane) Stats() (pcmDrops, outDrops uint64) {
	l.mu.Lock()
	pcmDrops = l.pcmDrops
	l.mu.Unlock()
	l.outMu.Lock()
	outDrops = l.outDrops
	l.outMu.Unlock()
	return
}

// Stop flushes the codec's residual bytes into the output queue and
// joins the worker goroutine. Idempotent.
func (l *Lane) Stop() {
	if !l.enabled {
		return
	}
	select {
	case <-l.stop:
		return
	default:
		close(l.stop)
	}
	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
	l.wg.Wait()
}
