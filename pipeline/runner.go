package pipeline

import (
	"time"

	"github.com/rebeljah/stellatune-audio/pipeline/pipeerr"
	"github.com/rebeljah/stellatune-audio/sink"
	"github.com/rebeljah/stellatune-audio/stage"
)

// RunnerState is the phase a Runner occupies (spec §3, PipelineRunner).
type RunnerState int

const (
	RunnerPrepared RunnerState = iota
	RunnerPlaying
	RunnerPaused
	RunnerStopped
)

// PauseBehavior selects how Pause treats audio already queued at the sink.
type PauseBehavior int

const (
	PauseImmediate PauseBehavior = iota
	PauseDrainQueue
)

// StopBehavior selects how Stop treats audio already queued at the sink.
type StopBehavior int

const (
	StopImmediate StopBehavior = iota
	StopDrainQueue
)

// drainDeadline bounds how long DrainQueue behaviors wait for the sink
// session's queue to empty before giving up.
const drainDeadline = 500 * time.Millisecond

// Runner is a running pipeline bound to one assembled stage set. It is a
// mutable state machine, not a container: it owns decode-side resources
// and steps exactly one block at a time (spec §4.2).
type Runner struct {
	source     stage.Source
	decoder    stage.Decoder
	transforms []AssembledTransform
	sinkStage  stage.Sink

	state RunnerState

	decodeSpec stage.StreamSpec // decoder's native output spec
	outputSpec stage.StreamSpec // spec after the transform chain, given to the sink

	sourceHandle stage.SourceHandle
	input        stage.InputRef

	blocks      [2]stage.AudioBlock
	pendingIdx  int // index into blocks of a decoded-but-not-yet-accepted block, or -1
	nextIdx     int
	blockFrames int

	sinkSession *sink.Session
}

// PrepareDecode calls source.Prepare, decoder.Prepare, then each
// transform's Prepare in declared order, propagating the negotiated spec
// down the chain. Any stage prepare failure aborts with a typed pipeline
// error (SourceUnavailableError / DecoderUnavailableError /
// InvalidSpecError / StageFailureError).
func (r *Runner) PrepareDecode(input stage.InputRef, pctx *stage.PipelineContext) error {
	handle, err := r.source.Prepare(nil, input, pctx)
	if err != nil {
		return pipeerr.SourceUnavailableError{}
	}
	r.sourceHandle = handle
	r.input = input

	spec, err := r.decoder.Prepare(handle, pctx)
	if err != nil {
		return pipeerr.DecoderUnavailableError{}
	}
	if !spec.Valid() {
		return pipeerr.InvalidSpecError{SampleRate: spec.SampleRate, Channels: spec.Channels}
	}
	r.decodeSpec = spec

	current := spec
	for _, t := range r.transforms {
		next, err := t.Stage.Prepare(current, pctx)
		if err != nil {
			return pipeerr.StageFailureError{Message: err.Error()}
		}
		if !next.Valid() {
			return pipeerr.InvalidSpecError{SampleRate: next.SampleRate, Channels: next.Channels}
		}
		current = next
	}
	r.outputSpec = current

	frameCap := r.blockFrames * int(current.Channels)
	if frameCap < r.blockFrames*int(spec.Channels) {
		frameCap = r.blockFrames * int(spec.Channels)
	}
	r.blocks[0] = stage.AudioBlock{Data: make([]float32, frameCap), Spec: spec}
	r.blocks[1] = stage.AudioBlock{Data: make([]float32, frameCap), Spec: spec}
	r.pendingIdx = -1
	r.nextIdx = 0

	r.state = RunnerPrepared
	return nil
}

// ActivateSink negotiates/opens the sink session for this runner's output
// spec. ImmediateCutover reuses an already-open sink whose negotiated spec
// matches; ForceRecreate always reopens.
func (r *Runner) ActivateSink(session *sink.Session, pctx *stage.PipelineContext, mode sink.ActivationMode) error {
	if err := session.Ensure(r.sinkStage, r.outputSpec, pctx, mode); err != nil {
		return err
	}
	r.sinkSession = session
	return nil
}

// Step decodes and processes exactly one block, then enqueues it to the
// bound sink session. If a prior call left a block unaccepted by the sink
// (back-pressure), Step retries enqueuing that same block rather than
// decoding a new one, so a stalled sink never drops audio. It updates
// pctx.PositionMs from frames produced; the decode worker throttles how
// often that position is surfaced as an event (spec §4.4 step 3,
// maybeEmitPosition in the worker package).
func (r *Runner) Step(pctx *stage.PipelineContext) stage.Status {
	if r.sinkSession == nil {
		return stage.StatusFatal
	}

	var blk *stage.AudioBlock
	if r.pendingIdx >= 0 {
		blk = &r.blocks[r.pendingIdx]
	} else {
		idx := r.nextIdx
		blk = &r.blocks[idx]
		blk.Reset()

		status := r.decoder.NextBlock(blk, pctx)
		if status != stage.StatusOK {
			return status
		}

		for _, t := range r.transforms {
			status = t.Stage.Process(blk, pctx)
			if status != stage.StatusOK {
				return status
			}
		}

		if r.outputSpec.SampleRate > 0 && blk.Frames > 0 {
			advanceMs := int64(blk.Frames) * 1000 / int64(r.outputSpec.SampleRate)
			pctx.PositionMs += advanceMs
		}

		r.pendingIdx = idx
		r.nextIdx = 1 - idx
	}

	accepted := r.sinkSession.Enqueue(blk)
	if accepted == 0 && blk.Frames > 0 {
		// Back-pressure: leave pendingIdx set so the next Step call retries
		// this same block instead of decoding past it.
		return stage.StatusOK
	}

	r.pendingIdx = -1
	return stage.StatusOK
}

// Backpressured reports whether a decoded block is waiting for sink
// capacity. The decode worker uses this to choose a short back-off sleep
// instead of busy-looping Step when the sink is stalled.
func (r *Runner) Backpressured() bool {
	return r.pendingIdx >= 0
}

// Seek pauses output, flushes transforms, reseats the decoder at
// positionMs (clamped to >=0), resets the sink queue, and resumes.
func (r *Runner) Seek(positionMs int64, session *sink.Session, pctx *stage.PipelineContext) error {
	if positionMs < 0 {
		positionMs = 0
	}

	wasPlaying := r.state == RunnerPlaying
	r.state = RunnerPaused

	for _, t := range r.transforms {
		if err := t.Stage.Flush(pctx); err != nil {
			return pipeerr.StageFailureError{Message: err.Error()}
		}
	}
	if err := r.decoder.Flush(pctx); err != nil {
		return pipeerr.StageFailureError{Message: err.Error()}
	}

	session.DropQueued()
	pctx.Reseat(positionMs)

	if wasPlaying {
		r.state = RunnerPlaying
	}
	return nil
}

// Pause transitions to Paused. DrainQueue waits for the sink session's
// queue to empty (bounded by drainDeadline) before returning; Immediate
// returns without waiting.
func (r *Runner) Pause(behavior PauseBehavior, session *sink.Session, pctx *stage.PipelineContext) error {
	if behavior == PauseDrainQueue && session != nil {
		session.Drain(drainDeadline)
	}
	r.state = RunnerPaused
	return nil
}

// StopWithBehavior tears down decode-side resources and the sink session.
func (r *Runner) StopWithBehavior(behavior StopBehavior, session *sink.Session, pctx *stage.PipelineContext) error {
	if behavior == StopDrainQueue && session != nil {
		session.Drain(drainDeadline)
	}
	r.StopDecodeOnly(pctx)
	if session != nil {
		session.Shutdown(behavior == StopImmediate)
	}
	r.state = RunnerStopped
	return nil
}

// StopDecodeOnly tears down source/decoder/transform resources but leaves
// the sink session untouched, used when rebuilding a runner in place
// (spec §4.4 pipeline rebuild: "Stop the old runner decode-only").
func (r *Runner) StopDecodeOnly(pctx *stage.PipelineContext) {
	for _, t := range r.transforms {
		t.Stage.Stop(pctx)
	}
	r.decoder.Stop(pctx)
	if r.source != nil {
		r.source.Stop(pctx)
	}
}

// Stop tears down everything this runner owns, including its sink session.
func (r *Runner) Stop(pctx *stage.PipelineContext) {
	r.StopDecodeOnly(pctx)
	if r.sinkSession != nil {
		r.sinkSession.Shutdown(true)
	}
	r.state = RunnerStopped
}

// ApplyTransformControlTo finds the transform with the matching stage key
// and applies control to it. Returns handled=false if no stage matched.
func (r *Runner) ApplyTransformControlTo(stageKey string, control any, pctx *stage.PipelineContext) (bool, error) {
	for _, t := range r.transforms {
		if t.HasKey && t.StageKey == stageKey {
			return t.Stage.ApplyControl(control, pctx)
		}
	}
	return false, nil
}

// PlayableRemainingFramesHint asks the decoder for a best-effort remaining
// frame count, used to size fade-out duration before a disruptive command.
func (r *Runner) PlayableRemainingFramesHint() (uint64, bool) {
	if r.decoder == nil {
		return 0, false
	}
	return r.decoder.EstimatedRemainingFrames()
}

// SetState explicitly sets the runner's phase, used by the decode worker
// after a rebuild or recovery completes.
func (r *Runner) SetState(s RunnerState) {
	r.state = s
}

// State returns the runner's current phase.
func (r *Runner) State() RunnerState {
	return r.state
}

// OutputSpec returns the negotiated spec handed to the sink.
func (r *Runner) OutputSpec() stage.StreamSpec {
	return r.outputSpec
}

// Input returns the InputRef this runner was prepared against.
func (r *Runner) Input() stage.InputRef {
	return r.input
}
