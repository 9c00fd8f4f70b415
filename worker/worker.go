package worker

import (
	"log"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/rebeljah/stellatune-audio/control/ctlerr"
	"github.com/rebeljah/stellatune-audio/gain"
	"github.com/rebeljah/stellatune-audio/metrics"
	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/rtprio"
	"github.com/rebeljah/stellatune-audio/sink"
	"github.com/rebeljah/stellatune-audio/stage"
)

// prewarmedNext is a fully prepared, not-yet-activated runner for the
// track queued after the active one (spec §3, PrewarmedNext). sessionID
// is an ephemeral correlation ID (not a stable track identity: InputRef
// already is one) used only to tell prewarm generations apart in logs
// when a track is queued, superseded, and re-queued in quick succession.
type prewarmedNext struct {
	sessionID string
	input     stage.InputRef
	runner    *pipeline.Runner
	ctx       *stage.PipelineContext
}

func newPrewarmedNext(input stage.InputRef, runner *pipeline.Runner, ctx *stage.PipelineContext) *prewarmedNext {
	return &prewarmedNext{sessionID: uuid.NewString(), input: input, runner: runner, ctx: ctx}
}

// state is DecodeWorkerState (spec §3): everything the loop owns
// exclusively. It is never touched from any goroutine but Run's.
type state struct {
	assembled *pipeline.AssembledPipeline
	runner    *pipeline.Runner
	ctx       *stage.PipelineContext
	input     stage.InputRef
	hasActive bool

	queuedNextInput stage.InputRef
	hasQueuedNext   bool
	prewarm         *prewarmedNext

	pinnedPlan    pipeline.Plan
	hasPinnedPlan bool

	lfeMode         pipeline.LFEMode
	resampleQuality pipeline.ResampleQuality

	persistedControls map[string]any

	playerState PlayerState

	recovering       bool
	recoveryAttempt  uint32
	recoveryBackoff  time.Duration
	recoveryDeadline time.Time

	lastPositionEmit time.Time

	// playStartWall/playStartPositionMs anchor the wall-clock-derived
	// expected position used for metrics.Sink.ObservePositionLagMs: set
	// whenever playback (re)starts at a known position, read in
	// maybeEmitPosition.
	playStartWall       time.Time
	playStartPositionMs int64
}

// Worker is a decode-worker instance. One Worker drives one decode thread
// (Run is meant to be started via `go w.Run()`); it is not safe to call Run
// more than once.
type Worker struct {
	assembler pipeline.Assembler
	runtime   pipeline.Runtime

	sinkSession *sink.Session
	latency     sink.LatencyConfig
	recovery    sink.RecoveryConfig
	transition  gain.TransitionConfig
	masterGain  *gain.HotControl
	metrics     metrics.Sink

	cfg Config

	commands  chan Command
	sinkFatal chan struct{}
	eventCb   EventCallback

	done chan struct{}
}

// New constructs a Worker. assembler/runtime are the external collaborators
// that turn an InputRef into an AssembledPipeline (spec §6). masterGain is
// shared with the engine handle so volume updates apply without a command
// round-trip. A nil metricsSink is replaced with metrics.NoopSink.
func New(
	assembler pipeline.Assembler,
	pipelineRuntime pipeline.Runtime,
	latency sink.LatencyConfig,
	recovery sink.RecoveryConfig,
	transition gain.TransitionConfig,
	masterGain *gain.HotControl,
	cfg Config,
	eventCb EventCallback,
	metricsSink metrics.Sink,
) *Worker {
	if metricsSink == nil {
		metricsSink = metrics.NoopSink{}
	}
	w := &Worker{
		assembler:   assembler,
		runtime:     pipelineRuntime,
		sinkSession: sink.NewSession(latency),
		latency:     latency,
		recovery:    recovery,
		transition:  transition,
		masterGain:  masterGain,
		metrics:     metricsSink,
		cfg:         cfg,
		commands:    make(chan Command, CommandDrainBatchMax),
		sinkFatal:   make(chan struct{}, 1),
		eventCb:     eventCb,
		done:        make(chan struct{}),
	}
	w.sinkSession.SetRecoveryCallback(w.handleSinkFatal)
	w.sinkSession.SetMetricsSink(metricsSink)
	return w
}

// Submit enqueues cmd without blocking; a full mailbox reports
// ctlerr.QueueFullError.
func (w *Worker) Submit(cmd Command) error {
	select {
	case w.commands <- cmd:
		return nil
	default:
		return ctlerr.QueueFullError{}
	}
}

// Done closes once Run has returned after processing a ShutdownCmd.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run executes the command+tick loop described in spec §4.4 until a
// ShutdownCmd is processed. Intended to be run on its own goroutine.
func (w *Worker) Run() {
	defer close(w.done)
	defer w.recoverPanic()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	guard := rtprio.New()
	if err := guard.Acquire(); err != nil {
		log.Printf("decode worker: rtprio acquire failed, continuing at default priority: %v", err)
	}
	defer guard.Release()

	var st state
	st.playerState = StateStopped
	st.persistedControls = make(map[string]any)
	st.recoveryBackoff = w.recovery.InitialBackoff

	for {
		if w.drainPendingCommands(&st) {
			return
		}

		w.checkRecovery(&st)

		if st.hasActive && st.playerState == StatePlaying && !st.recovering {
			w.stepOnce(&st)
			if st.runner == nil || !st.runner.Backpressured() {
				continue
			}
		}

		wait := w.loopWait(st.playerState, st.recovering)
		select {
		case cmd, ok := <-w.commands:
			if !ok {
				return
			}
			if w.handleCommand(&st, cmd) {
				return
			}
		case <-w.sinkFatal:
			w.beginRecovery(&st)
		case <-time.After(wait):
		}
	}
}

// drainPendingCommands services up to CommandDrainBatchMax already-queued
// commands without blocking, returning true once a ShutdownCmd has been
// processed.
func (w *Worker) drainPendingCommands(st *state) (shutdown bool) {
	for i := 0; i < CommandDrainBatchMax; i++ {
		select {
		case cmd, ok := <-w.commands:
			if !ok {
				return true
			}
			if w.handleCommand(st, cmd) {
				return true
			}
		default:
			return false
		}
	}
	return false
}

// loopWait picks the loop's blocking timeout per the state/recovery
// combination named in spec §8 scenario 6 (loop-timeout calibration). Pure
// and side-effect free so it can be asserted on directly in tests.
func (w *Worker) loopWait(playerState PlayerState, recovering bool) time.Duration {
	if playerState != StatePlaying {
		return w.cfg.IdleSleep
	}
	if recovering {
		return w.cfg.PlayingPendingBlockSleep
	}
	return w.cfg.PlayingIdleSleep
}

func (w *Worker) recoverPanic() {
	if r := recover(); r != nil {
		log.Printf("decode worker: recovered panic: %v", r)
		w.emit(Event{Kind: EventError, Message: ctlerr.WorkerPanickedError{Recovered: r}.Error()})
	}
}

func (w *Worker) emit(ev Event) {
	if w.eventCb != nil {
		w.eventCb(ev)
	}
}

// handleSinkFatal is the sink session's recovery callback, invoked from the
// writer goroutine. It must not touch decode-worker state directly (the
// loop goroutine owns all of it exclusively); it only posts a wakeup.
func (w *Worker) handleSinkFatal(err error) {
	select {
	case w.sinkFatal <- struct{}{}:
	default:
	}
}
