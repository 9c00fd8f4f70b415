// Package sink owns the device-facing side of the pipeline: exactly one
// active device sink, its bounded audio queue, and the writer goroutine
// that drains the queue at device rate. See spec §4.3.
package sink

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/rebeljah/stellatune-audio/metrics"
	"github.com/rebeljah/stellatune-audio/pipeline/pipeerr"
	"github.com/rebeljah/stellatune-audio/rtprio"
	"github.com/rebeljah/stellatune-audio/stage"
)

// LatencyConfig sizes the bounded audio queue bridging decode-rate
// production to device-rate consumption.
type LatencyConfig struct {
	TargetLatencyMs uint32
	BlockFrames     uint32
	MinQueueBlocks  int
	MaxQueueBlocks  int
}

// DefaultLatencyConfig matches the picast teacher's own preference for a
// small, low-jitter buffer (see stellatune-audio/src/config/sink.rs).
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		TargetLatencyMs: 12,
		BlockFrames:     128,
		MinQueueBlocks:  1,
		MaxQueueBlocks:  20,
	}
}

// QueueCapacity returns the number of blocks to buffer for sampleRate,
// clamped to [MinQueueBlocks, MaxQueueBlocks].
func (c LatencyConfig) QueueCapacity(sampleRate uint32) int {
	minBlocks := c.MinQueueBlocks
	if minBlocks < 1 {
		minBlocks = 1
	}
	maxBlocks := c.MaxQueueBlocks
	if maxBlocks < minBlocks {
		maxBlocks = minBlocks
	}
	blockFrames := uint64(c.BlockFrames)
	if blockFrames < 1 {
		blockFrames = 1
	}

	targetFrames := ceilDiv(uint64(sampleRate)*uint64(c.TargetLatencyMs), 1000)
	blocks := int(ceilDiv(targetFrames, blockFrames))
	if blocks == 0 {
		blocks = 1
	}
	if blocks < minBlocks {
		blocks = minBlocks
	}
	if blocks > maxBlocks {
		blocks = maxBlocks
	}
	return blocks
}

func (s *Session) metricsSnapshot() metrics.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// RecoveryConfig governs the decode worker's exponential backoff on
// sink-fatal errors (the decode worker owns the retry loop; this config
// merely carries the tuning values through the session).
type RecoveryConfig struct {
	MaxAttempts    uint32
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRecoveryConfig mirrors stellatune-audio/src/config/sink.rs.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts:    6,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// ActivationMode selects how Ensure treats an already-open session.
type ActivationMode int

const (
	// ImmediateCutover keeps the current sink if its negotiated spec
	// matches; otherwise it closes and reopens.
	ImmediateCutover ActivationMode = iota
	// ForceRecreate always closes and reopens, even on spec match.
	ForceRecreate
)

const (
	writeRetrySleep     = 2 * time.Millisecond
	writeStallDeadline  = 250 * time.Millisecond
)

// Session owns the currently open device sink, its bounded queue, and the
// writer goroutine draining it. Exactly one Session is active at a time;
// a second may exist transiently during hot-swap.
type Session struct {
	mu sync.Mutex

	sinkStage stage.Sink
	spec      stage.StreamSpec
	open      bool

	latency LatencyConfig

	queue      chan *stage.AudioBlock
	stopWriter chan struct{}
	writerDone chan struct{}

	recoveryOnce sync.Once
	recoveryCb   func(error)

	metrics metrics.Sink
}

// NewSession constructs an unopened session.
func NewSession(latency LatencyConfig) *Session {
	return &Session{latency: latency, metrics: metrics.NoopSink{}}
}

// SetRecoveryCallback installs the callback invoked (at most once per open
// session instance) when the writer goroutine observes a fatal sink error.
// The decode worker uses this to enter the recovery state machine.
func (s *Session) SetRecoveryCallback(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryCb = cb
}

// SetMetricsSink installs the collaborator the writer goroutine reports
// queue-depth observations to. A nil sink is replaced with metrics.NoopSink;
// the session is the only thing that actually knows its own queue length, so
// this is the single place queue-depth observations originate (a Sink stage
// writing into the queue has no visibility into it).
func (s *Session) SetMetricsSink(sink metrics.Sink) {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = sink
}

// IsOpen reports whether a sink is currently active.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// NegotiatedSpec returns the last spec the active sink was prepared with.
func (s *Session) NegotiatedSpec() (stage.StreamSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec, s.open
}

// Ensure opens sinkStage under the requested spec, reusing the existing
// open sink when mode is ImmediateCutover and the spec already matches.
func (s *Session) Ensure(sinkStage stage.Sink, spec stage.StreamSpec, pctx *stage.PipelineContext, mode ActivationMode) error {
	if !spec.Valid() {
		return pipeerr.InvalidSpecError{SampleRate: spec.SampleRate, Channels: spec.Channels}
	}

	s.mu.Lock()
	reuse := mode == ImmediateCutover && s.open && s.spec == spec
	s.mu.Unlock()
	if reuse {
		return nil
	}

	s.closeLocked()

	if err := sinkStage.Prepare(spec, pctx); err != nil {
		return err
	}

	capacity := s.latency.QueueCapacity(spec.SampleRate)

	s.mu.Lock()
	s.sinkStage = sinkStage
	s.spec = spec
	s.open = true
	s.queue = make(chan *stage.AudioBlock, capacity)
	s.stopWriter = make(chan struct{})
	s.writerDone = make(chan struct{})
	s.recoveryOnce = sync.Once{}
	queue, stopWriter, writerDone, cb := s.queue, s.stopWriter, s.writerDone, s.recoveryCb
	s.mu.Unlock()

	go s.runWriter(sinkStage, pctx, queue, stopWriter, writerDone, cb)

	return nil
}

// Enqueue offers a block to the writer goroutine without blocking. It
// returns the number of frames accepted: the full count if there was
// queue capacity, otherwise 0.
func (s *Session) Enqueue(block *stage.AudioBlock) int {
	s.mu.Lock()
	queue, open := s.queue, s.open
	s.mu.Unlock()
	if !open {
		return 0
	}

	select {
	case queue <- block:
		return block.Frames
	default:
		return 0
	}
}

// QueueLen reports the number of blocks currently buffered.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return 0
	}
	return len(s.queue)
}

// Drain waits until the queue empties or deadline elapses, returning true
// iff the queue drained in time.
func (s *Session) Drain(deadline time.Duration) bool {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return true
	}

	until := time.Now().Add(deadline)
	for len(queue) > 0 {
		if time.Now().After(until) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
	return true
}

// DropQueued discards any unconsumed blocks without closing the sink.
func (s *Session) DropQueued() {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return
	}
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

// Shutdown tears down the active sink. When hard is true the writer goroutine
// is signalled to stop immediately even with blocks still queued; otherwise
// Shutdown first waits up to writeStallDeadline for the queue to drain.
func (s *Session) Shutdown(hard bool) {
	if hard {
		s.closeLocked()
		return
	}
	s.Drain(writeStallDeadline)
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	sinkStage := s.sinkStage
	stopWriter := s.stopWriter
	writerDone := s.writerDone
	s.open = false
	s.sinkStage = nil
	s.mu.Unlock()

	if stopWriter != nil {
		close(stopWriter)
	}
	if writerDone != nil {
		<-writerDone
	}
	if sinkStage != nil {
		sinkStage.Stop(nil)
	}
}

// closeAfterFatal marks the session closed from inside runWriter itself,
// after a fatal write or a back-pressure stall. It must not call
// closeLocked: that blocks on writerDone, which only closes when this very
// goroutine returns, so calling it here would deadlock. Without this, s.open
// stays true after the writer exits, so a later ImmediateCutover Ensure call
// (spec §4.3) sees a spec match and reuses the "open" session instead of
// reopening it and starting a fresh writer goroutine.
func (s *Session) closeAfterFatal(sinkStage stage.Sink, pctx *stage.PipelineContext) {
	s.mu.Lock()
	s.open = false
	s.sinkStage = nil
	s.mu.Unlock()
	sinkStage.Stop(pctx)
}

func (s *Session) runWriter(sinkStage stage.Sink, pctx *stage.PipelineContext, queue chan *stage.AudioBlock, stopWriter, writerDone chan struct{}, recoveryCb func(error)) {
	defer close(writerDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	guard := rtprio.New()
	if err := guard.Acquire(); err != nil {
		log.Printf("sink session: rtprio acquire failed, continuing at default priority: %v", err)
	}
	defer guard.Release()

	pacer := newRetryPacer(writeRetrySleep)
	var zeroAcceptSince time.Time

	for {
		select {
		case <-stopWriter:
			return
		case block, ok := <-queue:
			if !ok {
				return
			}
			s.metricsSnapshot().ObserveQueueDepth(len(queue))
			for {
				accepted, status := sinkStage.Write(block, pctx)

				if status == stage.StatusFatal {
					log.Printf("sink session: fatal write error")
					s.closeAfterFatal(sinkStage, pctx)
					if recoveryCb != nil {
						recoveryCb(pipeerr.SinkDisconnectedError{})
					}
					return
				}

				if accepted > 0 || block.Frames == 0 {
					zeroAcceptSince = time.Time{}
					break
				}

				if zeroAcceptSince.IsZero() {
					zeroAcceptSince = time.Now()
				} else if time.Since(zeroAcceptSince) > writeStallDeadline {
					log.Printf("sink session: write stalled past %v", writeStallDeadline)
					s.closeAfterFatal(sinkStage, pctx)
					if recoveryCb != nil {
						recoveryCb(pipeerr.SinkDisconnectedError{})
					}
					return
				}

				if stopped := pacer.wait(stopWriter); stopped {
					return
				}
			}
		}
	}
}
