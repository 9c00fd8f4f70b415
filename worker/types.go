// Package worker implements the decode worker: the dedicated loop that
// owns a PipelineRunner, the prewarmed-next track, sink recovery, and gain
// transitions, and communicates with its owner exclusively through a
// command channel and an event callback (spec §4.4).
package worker

import (
	"time"

	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/stage"
)

// PlayerState is the worker's canonical player-state enumeration; the
// control package reuses this type directly rather than redeclaring it.
type PlayerState int

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
)

func (s PlayerState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// CommandDrainBatchMax bounds how many pending commands one loop iteration
// drains before advancing playback, named and documented here rather than
// left as an implicit loop-until-empty, to bound worst-case command-storm
// latency on the tick (recovered from the original decode loop's shape).
const CommandDrainBatchMax = 128

// PositionEmitInterval throttles Position events to at most this often
// (spec §4.2: "emits position updates at most every 200 ms").
const PositionEmitInterval = 200 * time.Millisecond

// Config carries the decode worker's loop-timing tunables (spec §6).
type Config struct {
	IdleSleep                time.Duration
	PlayingIdleSleep         time.Duration
	PlayingPendingBlockSleep time.Duration
}

// DefaultConfig mirrors the original's loop_timeouts defaults.
func DefaultConfig() Config {
	return Config{
		IdleSleep:                20 * time.Millisecond,
		PlayingIdleSleep:         2 * time.Millisecond,
		PlayingPendingBlockSleep: 5 * time.Millisecond,
	}
}

// EventKind identifies an Event's payload shape.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventTrackChanged
	EventPosition
	EventRecovering
	EventEof
	EventError
)

// Event is posted from the decode worker's loop to its owner's event
// callback. The callback must not block (spec §9: "the implementation must
// guarantee that the invocation is non-blocking").
type Event struct {
	Kind EventKind

	State      PlayerState    // EventStateChanged
	Track      stage.InputRef // EventTrackChanged
	PositionMs int64          // EventPosition
	Attempt    uint32         // EventRecovering
	BackoffMs  uint32         // EventRecovering
	Message    string         // EventError
}

// EventCallback receives worker events. Implementations must return
// promptly; the decode worker's loop calls it synchronously.
type EventCallback func(Event)

// Command is the sealed set of requests the decode worker's loop accepts.
// Every concrete command carries its own one-shot reply channel.
type Command interface{ isCommand() }

// OpenCmd opens a new track, replacing any active pipeline.
type OpenCmd struct {
	Input        stage.InputRef
	StartPlaying bool
	Reply        chan error
}

func (OpenCmd) isCommand() {}

// QueueNextCmd prewarms input as the track to promote on EOF.
type QueueNextCmd struct {
	Input stage.InputRef
	Reply chan error
}

func (QueueNextCmd) isCommand() {}

// PlayCmd resumes playback of the active pipeline.
type PlayCmd struct{ Reply chan error }

func (PlayCmd) isCommand() {}

// PauseCmd pauses the active pipeline.
type PauseCmd struct {
	Behavior pipeline.PauseBehavior
	Reply    chan error
}

func (PauseCmd) isCommand() {}

// SeekCmd reseats the active pipeline at PositionMs.
type SeekCmd struct {
	PositionMs int64
	Reply      chan error
}

func (SeekCmd) isCommand() {}

// StopCmd tears down the active pipeline.
type StopCmd struct {
	Behavior pipeline.StopBehavior
	Reply    chan error
}

func (StopCmd) isCommand() {}

// ApplyPipelinePlanCmd pins plan as the source of truth for subsequent
// rebuilds (including the EOF fallback path) and rebuilds the active
// pipeline from it immediately (ForceRecreate).
type ApplyPipelinePlanCmd struct {
	Plan  pipeline.Plan
	Reply chan error
}

func (ApplyPipelinePlanCmd) isCommand() {}

// ApplyPipelineMutationCmd mutates the runtime's assembled pipeline in
// place and rebuilds the active runner from it (ImmediateCutover).
type ApplyPipelineMutationCmd struct {
	Mutation pipeline.Mutation
	Reply    chan error
}

func (ApplyPipelineMutationCmd) isCommand() {}

// SetMasterGainLevelCmd writes the shared master-gain hot control. This
// command exists for API symmetry; EngineHandle.SetVolume normally writes
// the hot control directly without round-tripping through the worker.
type SetMasterGainLevelCmd struct {
	Level float32
	Reply chan error
}

func (SetMasterGainLevelCmd) isCommand() {}

// SetLfeModeCmd updates the active assembled pipeline's LFE policy and
// rebuilds the runner (ImmediateCutover).
type SetLfeModeCmd struct {
	Mode  pipeline.LFEMode
	Reply chan error
}

func (SetLfeModeCmd) isCommand() {}

// SetResampleQualityCmd updates the active assembled pipeline's resample
// quality policy and rebuilds the runner (ImmediateCutover).
type SetResampleQualityCmd struct {
	Quality pipeline.ResampleQuality
	Reply   chan error
}

func (SetResampleQualityCmd) isCommand() {}

// ApplyStageControlCmd applies an opaque control to the transform with the
// given stage key, persisting it for replay on every future rebuild.
type ApplyStageControlCmd struct {
	StageKey string
	Control  any
	Reply    chan error
}

func (ApplyStageControlCmd) isCommand() {}

// ShutdownCmd tears everything down; the loop returns after processing it.
type ShutdownCmd struct {
	Reply chan error
}

func (ShutdownCmd) isCommand() {}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
		// Caller already gave up waiting (command timeout is advisory per
		// spec §9); dropping a late reply here must never block the loop.
	}
}
