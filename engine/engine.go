// Package engine implements the engine handle: the clone-safe external
// facade over the control actor, the event hub, and the shared master-gain
// hot control (spec §4.8).
package engine

import (
	"time"

	"github.com/rebeljah/stellatune-audio/control"
	"github.com/rebeljah/stellatune-audio/control/ctlerr"
	"github.com/rebeljah/stellatune-audio/eventhub"
	"github.com/rebeljah/stellatune-audio/gain"
	"github.com/rebeljah/stellatune-audio/metrics"
	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/sink"
	"github.com/rebeljah/stellatune-audio/stage"
	"github.com/rebeljah/stellatune-audio/worker"
)

// Config is EngineConfig (spec §6): every tunable the core recognizes.
type Config struct {
	EventCapacity        int
	CommandTimeout       time.Duration
	DecodeCommandTimeout time.Duration
	ShutdownTimeout      time.Duration

	DecodeIdleSleep                time.Duration
	DecodePlayingIdleSleep         time.Duration
	DecodePlayingPendingBlockSleep time.Duration

	SinkLatency    sink.LatencyConfig
	SinkRecovery   sink.RecoveryConfig
	GainTransition gain.TransitionConfig

	// InitialVolume seeds the shared master-gain hot control.
	InitialVolume float32

	// MetricsSink receives queue-depth, recovery-attempt, and position-lag
	// observations from the sink session and decode worker. Defaults to
	// metrics.NoopSink.
	MetricsSink metrics.Sink
}

// DefaultConfig mirrors the teacher's own preference for small, named
// constants over a config-file loader (see SPEC_FULL.md §2).
func DefaultConfig() Config {
	workerDefaults := worker.DefaultConfig()
	return Config{
		EventCapacity:                  64,
		CommandTimeout:                 2 * time.Second,
		DecodeCommandTimeout:           500 * time.Millisecond,
		ShutdownTimeout:                2 * time.Second,
		DecodeIdleSleep:                workerDefaults.IdleSleep,
		DecodePlayingIdleSleep:         workerDefaults.PlayingIdleSleep,
		DecodePlayingPendingBlockSleep: workerDefaults.PlayingPendingBlockSleep,
		SinkLatency:                    sink.DefaultLatencyConfig(),
		SinkRecovery:                   sink.DefaultRecoveryConfig(),
		GainTransition:                 gain.DefaultTransitionConfig(),
		InitialVolume:                  1.0,
		MetricsSink:                    metrics.NoopSink{},
	}
}

// Handle is the engine's public facade. Safe to share across goroutines
// (every method is request/reply over channels owned by the actor and
// decode worker); safe to copy by value since every field is a pointer or
// immutable duration.
type Handle struct {
	actor      *control.Actor
	worker     *worker.Worker
	hub        *eventhub.Hub
	masterGain *gain.HotControl

	commandTimeout  time.Duration
	shutdownTimeout time.Duration
}

// New wires a decode worker, control actor, and event hub together and
// starts both on their own goroutines. assembler/runtime are the external
// collaborators that turn an InputRef into an AssembledPipeline.
func New(assembler pipeline.Assembler, runtime pipeline.Runtime, cfg Config) *Handle {
	hub := eventhub.New(cfg.EventCapacity)
	masterGain := gain.NewHotControl(cfg.InitialVolume)

	actor := control.NewActor(hub, cfg.DecodeCommandTimeout)

	w := worker.New(
		assembler,
		runtime,
		cfg.SinkLatency,
		cfg.SinkRecovery,
		cfg.GainTransition,
		masterGain,
		worker.Config{
			IdleSleep:                cfg.DecodeIdleSleep,
			PlayingIdleSleep:         cfg.DecodePlayingIdleSleep,
			PlayingPendingBlockSleep: cfg.DecodePlayingPendingBlockSleep,
		},
		actor.EventCallback(),
		cfg.MetricsSink,
	)

	_ = actor.AttachWorker(w)

	go w.Run()
	go actor.Run()

	return &Handle{
		actor:           actor,
		worker:          w,
		hub:             hub,
		masterGain:      masterGain,
		commandTimeout:  cfg.CommandTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

func (h *Handle) call(cmd control.Command, replyCh chan error, name string) error {
	if err := h.actor.Submit(cmd); err != nil {
		return err
	}
	select {
	case err := <-replyCh:
		return err
	case <-time.After(h.commandTimeout):
		return ctlerr.CommandTimedOutError{Command: name}
	}
}

// SwitchTrackToken opens input, replacing any active pipeline.
func (h *Handle) SwitchTrackToken(input stage.InputRef, autoplay bool) error {
	replyCh := make(chan error, 1)
	return h.call(control.OpenCmd{Input: input, StartPlaying: autoplay, Reply: replyCh}, replyCh, "open")
}

// QueueNextTrackToken prewarms input to promote on the active track's EOF.
func (h *Handle) QueueNextTrackToken(input stage.InputRef) error {
	replyCh := make(chan error, 1)
	return h.call(control.QueueNextCmd{Input: input, Reply: replyCh}, replyCh, "queue_next")
}

// Play resumes playback of the active track.
func (h *Handle) Play() error {
	replyCh := make(chan error, 1)
	return h.call(control.PlayCmd{Reply: replyCh}, replyCh, "play")
}

// Pause pauses immediately.
func (h *Handle) Pause() error {
	return h.PauseWith(pipeline.PauseImmediate)
}

// PauseWith pauses with an explicit queue-drain behavior.
func (h *Handle) PauseWith(behavior pipeline.PauseBehavior) error {
	replyCh := make(chan error, 1)
	return h.call(control.PauseCmd{Behavior: behavior, Reply: replyCh}, replyCh, "pause")
}

// SeekMs reseats playback at positionMs (clamped to >=0).
func (h *Handle) SeekMs(positionMs int64) error {
	replyCh := make(chan error, 1)
	return h.call(control.SeekCmd{PositionMs: positionMs, Reply: replyCh}, replyCh, "seek")
}

// Stop tears down the active pipeline immediately.
func (h *Handle) Stop() error {
	return h.StopWith(pipeline.StopImmediate)
}

// StopWith tears down the active pipeline with an explicit behavior.
func (h *Handle) StopWith(behavior pipeline.StopBehavior) error {
	replyCh := make(chan error, 1)
	return h.call(control.StopCmd{Behavior: behavior, Reply: replyCh}, replyCh, "stop")
}

// Volume returns the shared master-gain hot control's current level.
func (h *Handle) Volume() float32 {
	level, _ := h.masterGain.Snapshot()
	return level
}

// SetVolume writes the shared master-gain hot control directly, bypassing
// the actor for low-latency application, then emits VolumeChanged (spec
// §4.8).
func (h *Handle) SetVolume(level float32) {
	h.masterGain.Set(level)
	applied, _ := h.masterGain.Snapshot()
	h.hub.Emit(eventhub.Event{Kind: eventhub.KindVolumeChanged, Volume: applied})
}

// SetLfeMode updates the active assembled pipeline's LFE policy.
func (h *Handle) SetLfeMode(mode pipeline.LFEMode) error {
	replyCh := make(chan error, 1)
	return h.call(control.SetLfeModeCmd{Mode: mode, Reply: replyCh}, replyCh, "set_lfe_mode")
}

// SetResampleQuality updates the active assembled pipeline's resample
// quality policy.
func (h *Handle) SetResampleQuality(quality pipeline.ResampleQuality) error {
	replyCh := make(chan error, 1)
	return h.call(control.SetResampleQualityCmd{Quality: quality, Reply: replyCh}, replyCh, "set_resample_quality")
}

// ApplyPipelinePlan pins plan and rebuilds the active pipeline from it.
func (h *Handle) ApplyPipelinePlan(plan pipeline.Plan) error {
	replyCh := make(chan error, 1)
	return h.call(control.ApplyPipelinePlanCmd{Plan: plan, Reply: replyCh}, replyCh, "apply_pipeline_plan")
}

// ApplyPipelineMutation mutates the runtime's assembled pipeline in place.
func (h *Handle) ApplyPipelineMutation(mutation pipeline.Mutation) error {
	replyCh := make(chan error, 1)
	return h.call(control.ApplyPipelineMutationCmd{Mutation: mutation, Reply: replyCh}, replyCh, "apply_pipeline_mutation")
}

// ApplyStageControl applies an opaque control to the transform with the
// given stage key, persisting it for replay on every future rebuild.
func (h *Handle) ApplyStageControl(stageKey string, value any) error {
	replyCh := make(chan error, 1)
	return h.call(control.ApplyStageControlCmd{StageKey: stageKey, Control: value, Reply: replyCh}, replyCh, "apply_stage_control")
}

// Snapshot returns the actor's cached engine state.
func (h *Handle) Snapshot() (control.Snapshot, error) {
	replyCh := make(chan control.Snapshot, 1)
	if err := h.actor.Submit(control.SnapshotCmd{Reply: replyCh}); err != nil {
		return control.Snapshot{}, err
	}
	select {
	case snap := <-replyCh:
		return snap, nil
	case <-time.After(h.commandTimeout):
		return control.Snapshot{}, ctlerr.CommandTimedOutError{Command: "snapshot"}
	}
}

// SubscribeEvents returns a live subscription to the engine's event stream.
func (h *Handle) SubscribeEvents() *eventhub.Subscription {
	return h.hub.Subscribe()
}

// Shutdown stops the decode worker then the control actor, in that order
// (spec §4.6), and waits up to ShutdownTimeout for both to exit.
func (h *Handle) Shutdown() error {
	replyCh := make(chan error, 1)
	err := h.call(control.ShutdownCmd{Reply: replyCh}, replyCh, "shutdown")

	select {
	case <-h.actor.Done():
	case <-time.After(h.shutdownTimeout):
		return ctlerr.ShutdownTimedOutError{}
	}
	return err
}
