package worker

import (
	"log"
	"sort"
	"time"

	"github.com/rebeljah/stellatune-audio/gain"
	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/sink"
	"github.com/rebeljah/stellatune-audio/stage"
	"github.com/rebeljah/stellatune-audio/worker/workererr"
)

// handleCommand dispatches one command to its handler and posts the reply.
// It returns true if cmd was a ShutdownCmd, telling Run to exit.
func (w *Worker) handleCommand(st *state, cmd Command) (shutdown bool) {
	switch c := cmd.(type) {
	case OpenCmd:
		err := w.handleOpen(st, c.Input, c.StartPlaying)
		reply(c.Reply, err)
	case QueueNextCmd:
		reply(c.Reply, w.handleQueueNext(st, c.Input))
	case PlayCmd:
		reply(c.Reply, w.handlePlay(st))
	case PauseCmd:
		reply(c.Reply, w.handlePause(st, c.Behavior))
	case SeekCmd:
		reply(c.Reply, w.handleSeek(st, c.PositionMs))
	case StopCmd:
		reply(c.Reply, w.handleStop(st, c.Behavior))
	case ApplyPipelinePlanCmd:
		reply(c.Reply, w.handleApplyPlan(st, c.Plan))
	case ApplyPipelineMutationCmd:
		reply(c.Reply, w.handleApplyMutation(st, c.Mutation))
	case SetMasterGainLevelCmd:
		w.masterGain.Set(c.Level)
		reply(c.Reply, nil)
	case SetLfeModeCmd:
		reply(c.Reply, w.handleSetLfeMode(st, c.Mode))
	case SetResampleQualityCmd:
		reply(c.Reply, w.handleSetResampleQuality(st, c.Quality))
	case ApplyStageControlCmd:
		reply(c.Reply, w.handleApplyStageControl(st, c.StageKey, c.Control))
	case ShutdownCmd:
		w.handleShutdown(st)
		reply(c.Reply, nil)
		return true
	}
	return false
}

func (w *Worker) handleOpen(st *state, input stage.InputRef, startPlaying bool) error {
	assembled, runner, ctx, err := w.buildPipeline(st, input)
	if err != nil {
		return err
	}

	if st.hasActive {
		st.runner.StopDecodeOnly(st.ctx)
	}
	st.assembled = assembled
	st.runner = runner
	st.ctx = ctx
	st.input = input
	st.hasActive = true
	st.recovering = false
	st.recoveryAttempt = 0

	w.replayPersistedControls(st)
	w.applyMasterGain(st)

	if err := runner.ActivateSink(w.sinkSession, ctx, sink.ImmediateCutover); err != nil {
		st.hasActive = false
		return err
	}

	if startPlaying {
		runner.SetState(pipeline.RunnerPlaying)
		st.playerState = StatePlaying
		w.markPlayStart(st)
		if err := gain.RequestFadeInFromSilenceWithRunner(runner, ctx, w.transition, w.transition.OpenFadeInMs); err != nil {
			log.Printf("decode worker: open fade-in failed: %v", err)
		}
		w.emit(Event{Kind: EventStateChanged, State: StatePlaying})
	} else {
		runner.SetState(pipeline.RunnerPrepared)
		st.playerState = StateStopped
	}

	w.emit(Event{Kind: EventTrackChanged, Track: input})
	return nil
}

func (w *Worker) handleQueueNext(st *state, input stage.InputRef) error {
	st.queuedNextInput = input
	st.hasQueuedNext = true
	st.prewarm = nil

	_, runner, ctx, err := w.buildPipeline(st, input)
	if err != nil {
		return err
	}
	st.prewarm = newPrewarmedNext(input, runner, ctx)
	log.Printf("decode worker: prewarmed %s (session=%s)", input, st.prewarm.sessionID)
	return nil
}

func (w *Worker) handlePlay(st *state) error {
	if !st.hasActive {
		return workererr.NoActivePipelineError{Op: "play"}
	}
	if st.playerState == StatePlaying {
		return nil
	}
	st.playerState = StatePlaying
	st.runner.SetState(pipeline.RunnerPlaying)
	w.markPlayStart(st)
	if err := gain.RequestFadeInWithRunner(st.runner, st.ctx, w.transition, w.transition.PlayFadeInMs); err != nil {
		log.Printf("decode worker: play fade-in failed: %v", err)
	}
	w.emit(Event{Kind: EventStateChanged, State: StatePlaying})
	return nil
}

func (w *Worker) handlePause(st *state, behavior pipeline.PauseBehavior) error {
	if !st.hasActive {
		return workererr.NoActivePipelineError{Op: "pause"}
	}
	if st.playerState == StatePaused {
		return nil
	}
	if err := gain.RunInterruptFadeOut(st.runner, st.ctx, w.transition, w.transition.PauseFadeOutMs, st.runner.OutputSpec().SampleRate); err != nil {
		log.Printf("decode worker: pause fade-out failed: %v", err)
	}
	if err := st.runner.Pause(behavior, w.sinkSession, st.ctx); err != nil {
		return err
	}
	st.playerState = StatePaused
	w.emit(Event{Kind: EventStateChanged, State: StatePaused})
	return nil
}

func (w *Worker) handleSeek(st *state, positionMs int64) error {
	if !st.hasActive {
		return workererr.NoActivePipelineError{Op: "seek"}
	}
	if positionMs < 0 {
		positionMs = 0
	}

	wasPlaying := st.playerState == StatePlaying
	if wasPlaying {
		if err := gain.RunInterruptFadeOut(st.runner, st.ctx, w.transition, w.transition.SeekFadeOutMs, st.runner.OutputSpec().SampleRate); err != nil {
			log.Printf("decode worker: seek fade-out failed: %v", err)
		}
	}

	if err := st.runner.Seek(positionMs, w.sinkSession, st.ctx); err != nil {
		return err
	}

	if wasPlaying {
		if err := gain.RequestFadeInWithRunner(st.runner, st.ctx, w.transition, w.transition.SeekFadeInMs); err != nil {
			log.Printf("decode worker: seek fade-in failed: %v", err)
		}
	}

	if wasPlaying {
		w.markPlayStart(st)
	}
	st.lastPositionEmit = time.Time{}
	w.maybeEmitPosition(st)
	return nil
}

func (w *Worker) handleStop(st *state, behavior pipeline.StopBehavior) error {
	if !st.hasActive {
		return workererr.NoActivePipelineError{Op: "stop"}
	}
	if err := gain.RunInterruptFadeOut(st.runner, st.ctx, w.transition, w.transition.StopFadeOutMs, st.runner.OutputSpec().SampleRate); err != nil {
		log.Printf("decode worker: stop fade-out failed: %v", err)
	}
	st.runner.StopWithBehavior(behavior, w.sinkSession, st.ctx)
	w.clearActive(st)
	w.emit(Event{Kind: EventStateChanged, State: StateStopped})
	return nil
}

func (w *Worker) handleApplyPlan(st *state, plan pipeline.Plan) error {
	st.pinnedPlan = plan
	st.hasPinnedPlan = true
	if !st.hasActive {
		return nil
	}
	return w.rebuildActive(st, sink.ForceRecreate)
}

func (w *Worker) handleApplyMutation(st *state, mutation pipeline.Mutation) error {
	if err := w.runtime.ApplyPipelineMutation(mutation); err != nil {
		return err
	}
	if !st.hasActive {
		return nil
	}
	return w.rebuildActive(st, sink.ImmediateCutover)
}

func (w *Worker) handleSetLfeMode(st *state, mode pipeline.LFEMode) error {
	st.lfeMode = mode
	if !st.hasActive {
		return nil
	}
	return w.rebuildActive(st, sink.ImmediateCutover)
}

func (w *Worker) handleSetResampleQuality(st *state, quality pipeline.ResampleQuality) error {
	st.resampleQuality = quality
	if !st.hasActive {
		return nil
	}
	return w.rebuildActive(st, sink.ImmediateCutover)
}

func (w *Worker) handleApplyStageControl(st *state, stageKey string, control any) error {
	st.persistedControls[stageKey] = control
	if !st.hasActive {
		return nil
	}
	handled, err := st.runner.ApplyTransformControlTo(stageKey, control, st.ctx)
	if err != nil {
		return workererr.PersistedControlApplyError{StageKey: stageKey, Cause: err}
	}
	if !handled {
		return workererr.TransformStageNotFoundError{StageKey: stageKey}
	}
	return nil
}

func (w *Worker) handleShutdown(st *state) {
	if st.hasActive {
		st.runner.Stop(st.ctx)
	}
	w.sinkSession.Shutdown(true)
	w.clearActive(st)
}

func (w *Worker) clearActive(st *state) {
	st.hasActive = false
	st.runner = nil
	st.ctx = nil
	st.assembled = nil
	st.playerState = StateStopped
	st.recovering = false
	st.recoveryAttempt = 0
}

// stepOnce advances the active runner by one block and reacts to the
// resulting status. Sink-fatal errors never arrive here: the sink session
// reports those asynchronously via handleSinkFatal.
func (w *Worker) stepOnce(st *state) {
	switch st.runner.Step(st.ctx) {
	case stage.StatusOK:
		w.maybeEmitPosition(st)
	case stage.StatusEOF:
		w.handleEOF(st)
	case stage.StatusFatal:
		w.emit(Event{Kind: EventError, Message: "decode pipeline stage fatal"})
		w.forceStop(st)
	}
}

func (w *Worker) maybeEmitPosition(st *state) {
	now := time.Now()
	if !st.lastPositionEmit.IsZero() && now.Sub(st.lastPositionEmit) < PositionEmitInterval {
		return
	}
	st.lastPositionEmit = now
	w.reportPositionLag(st, now)
	w.emit(Event{Kind: EventPosition, PositionMs: st.ctx.PositionMs})
}

// markPlayStart anchors playStartWall/playStartPositionMs at the moment
// playback (re)starts at a known position, giving reportPositionLag a
// wall-clock baseline to compare the decoded position against.
func (w *Worker) markPlayStart(st *state) {
	st.playStartWall = time.Now()
	st.playStartPositionMs = st.ctx.PositionMs
}

// reportPositionLag reports how far the decoded position has drifted from
// the wall-clock-expected position since the last markPlayStart, a proxy
// for decode/sink underrun (spec §7, position lag).
func (w *Worker) reportPositionLag(st *state, now time.Time) {
	if st.playStartWall.IsZero() {
		return
	}
	expected := st.playStartPositionMs + now.Sub(st.playStartWall).Milliseconds()
	w.metrics.ObservePositionLagMs(expected - st.ctx.PositionMs)
}

// handleEOF promotes the prewarmed-next track if one matches the queued
// input, otherwise synthesizes a fallback rebuild for the queued input, or
// else emits the terminal Eof (spec §4.4, "EOF promotion").
func (w *Worker) handleEOF(st *state) {
	if st.prewarm != nil && st.hasQueuedNext && st.prewarm.input == st.queuedNextInput {
		w.promotePrewarm(st)
		return
	}

	if st.hasQueuedNext {
		input := st.queuedNextInput
		st.hasQueuedNext = false
		st.prewarm = nil
		if err := w.handleOpen(st, input, true); err != nil {
			w.emit(Event{Kind: EventError, Message: err.Error()})
			w.forceStop(st)
		}
		return
	}

	w.emit(Event{Kind: EventEof})
	w.forceStop(st)
}

func (w *Worker) promotePrewarm(st *state) {
	pre := st.prewarm
	st.prewarm = nil
	st.hasQueuedNext = false

	if st.hasActive {
		st.runner.StopDecodeOnly(st.ctx)
	}

	st.runner = pre.runner
	st.ctx = pre.ctx
	st.input = pre.input
	st.hasActive = true

	w.replayPersistedControls(st)
	w.applyMasterGain(st)

	if err := st.runner.ActivateSink(w.sinkSession, st.ctx, sink.ImmediateCutover); err != nil {
		w.emit(Event{Kind: EventError, Message: err.Error()})
		w.forceStop(st)
		return
	}

	st.runner.SetState(pipeline.RunnerPlaying)
	st.playerState = StatePlaying
	w.markPlayStart(st)
	if err := gain.RequestFadeInFromSilenceWithRunner(st.runner, st.ctx, w.transition, w.transition.OpenFadeInMs); err != nil {
		log.Printf("decode worker: prewarm promotion fade-in failed: %v", err)
	}
	w.emit(Event{Kind: EventTrackChanged, Track: st.input})
}

// buildPipeline resolves a plan for input (honoring a pinned plan if one is
// set), materializes it, and prepares a runner's decode side. It does not
// mutate st or activate the sink.
func (w *Worker) buildPipeline(st *state, input stage.InputRef) (*pipeline.AssembledPipeline, *pipeline.Runner, *stage.PipelineContext, error) {
	var plan pipeline.Plan
	var err error
	if st.hasPinnedPlan {
		plan = st.pinnedPlan
	} else {
		plan, err = w.assembler.Plan(input)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	assembled, err := w.runtime.Ensure(plan)
	if err != nil {
		return nil, nil, nil, err
	}
	assembled.LFEMode = st.lfeMode
	assembled.ResampleQuality = st.resampleQuality

	runner := assembled.IntoRunner(w.latency)
	ctx := stage.NewPipelineContext()
	if err := runner.PrepareDecode(input, ctx); err != nil {
		return nil, nil, nil, err
	}
	return assembled, runner, ctx, nil
}

// rebuildActive rebuilds the active runner in place from the current
// (possibly just-mutated) plan/policy state, preserving play/pause phase
// and position (spec §4.4, "Pipeline rebuild").
func (w *Worker) rebuildActive(st *state, mode sink.ActivationMode) error {
	resumePlaying := st.playerState == StatePlaying
	var resumePosition int64
	if st.ctx != nil {
		resumePosition = st.ctx.PositionMs
	}

	st.runner.StopDecodeOnly(st.ctx)

	assembled, runner, ctx, err := w.buildPipeline(st, st.input)
	if err != nil {
		return err
	}

	st.assembled = assembled
	st.runner = runner
	st.ctx = ctx

	w.replayPersistedControls(st)
	w.applyMasterGain(st)

	if err := runner.ActivateSink(w.sinkSession, ctx, mode); err != nil {
		return err
	}

	if resumePosition > 0 {
		if err := runner.Seek(resumePosition, w.sinkSession, ctx); err != nil {
			return err
		}
	}

	if resumePlaying {
		runner.SetState(pipeline.RunnerPlaying)
		st.playerState = StatePlaying
		w.markPlayStart(st)
		if err := gain.RequestFadeInFromSilenceWithRunner(runner, ctx, w.transition, w.transition.PlayFadeInMs); err != nil {
			log.Printf("decode worker: rebuild fade-in failed: %v", err)
		}
	} else {
		runner.SetState(pipeline.RunnerPaused)
	}
	return nil
}

func (w *Worker) replayPersistedControls(st *state) {
	keys := make([]string, 0, len(st.persistedControls))
	for k := range st.persistedControls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := st.runner.ApplyTransformControlTo(k, st.persistedControls[k], st.ctx); err != nil {
			log.Printf("decode worker: replay persisted control %q failed: %v", k, err)
		}
	}
}

func (w *Worker) applyMasterGain(st *state) {
	level, _ := w.masterGain.Snapshot()
	if err := gain.ApplyMasterGainLevelToRunner(st.runner, st.ctx, level); err != nil {
		log.Printf("decode worker: apply master gain failed: %v", err)
	}
}

func (w *Worker) forceStop(st *state) {
	if st.hasActive {
		st.runner.Stop(st.ctx)
	}
	w.clearActive(st)
	w.emit(Event{Kind: EventStateChanged, State: StateStopped})
}

// beginRecovery starts the sink-fatal recovery state machine (spec §4.4).
func (w *Worker) beginRecovery(st *state) {
	if st.recovering {
		return
	}
	if !st.hasActive {
		// A sink-fatal callback can still be in flight from a session that
		// was just torn down (handleStop/Shutdown/track-EOF); there is
		// nothing left to recover, but the event must still be surfaced
		// per spec §7's decode-worker taxonomy rather than dropped silently.
		w.emit(Event{Kind: EventError, Message: workererr.NoActiveInputForRecoveryError{}.Error()})
		return
	}
	st.recovering = true
	st.recoveryAttempt = 1
	st.recoveryBackoff = w.recovery.InitialBackoff
	st.recoveryDeadline = time.Now().Add(st.recoveryBackoff)
	w.metrics.ObserveRecoveryAttempt(st.recoveryAttempt)
	w.emit(Event{
		Kind:      EventRecovering,
		Attempt:   st.recoveryAttempt,
		BackoffMs: uint32(st.recoveryBackoff.Milliseconds()),
	})
}

// checkRecovery advances the recovery state machine once its retry
// deadline has elapsed.
func (w *Worker) checkRecovery(st *state) {
	if !st.recovering {
		return
	}
	if time.Now().Before(st.recoveryDeadline) {
		return
	}

	if err := st.runner.ActivateSink(w.sinkSession, st.ctx, sink.ImmediateCutover); err == nil {
		st.recovering = false
		st.recoveryAttempt = 0
		if st.playerState == StatePlaying {
			w.markPlayStart(st)
		}
		return
	}

	st.recoveryAttempt++
	if st.recoveryAttempt > w.recovery.MaxAttempts {
		w.emit(Event{Kind: EventError, Message: "sink recovery exhausted"})
		st.recovering = false
		w.forceStop(st)
		return
	}

	st.recoveryBackoff *= 2
	if st.recoveryBackoff > w.recovery.MaxBackoff {
		st.recoveryBackoff = w.recovery.MaxBackoff
	}
	st.recoveryDeadline = time.Now().Add(st.recoveryBackoff)
	w.metrics.ObserveRecoveryAttempt(st.recoveryAttempt)
	w.emit(Event{
		Kind:      EventRecovering,
		Attempt:   st.recoveryAttempt,
		BackoffMs: uint32(st.recoveryBackoff.Milliseconds()),
	})
}
