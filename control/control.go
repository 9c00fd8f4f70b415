// Package control implements the control actor (spec §4.6): the
// single-threaded dispatcher that serializes transport commands, maintains
// the cached engine snapshot, and translates decode-worker events onto the
// event hub.
package control

import (
	"log"
	"time"

	"github.com/rebeljah/stellatune-audio/control/ctlerr"
	"github.com/rebeljah/stellatune-audio/eventhub"
	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/stage"
	"github.com/rebeljah/stellatune-audio/worker"
)

// PlayerState is re-exported from worker so callers of this package rarely
// need to import worker directly.
type PlayerState = worker.PlayerState

// Snapshot is the actor's cached view of engine state (spec §4.6).
type Snapshot struct {
	State        PlayerState
	PositionMs   int64
	CurrentTrack stage.InputRef
	HasTrack     bool
}

// Command is the sealed set of requests the control actor accepts, one per
// public engine operation plus Snapshot/Shutdown.
type Command interface{ isCommand() }

type OpenCmd struct {
	Input        stage.InputRef
	StartPlaying bool
	Reply        chan error
}

func (OpenCmd) isCommand() {}

type QueueNextCmd struct {
	Input stage.InputRef
	Reply chan error
}

func (QueueNextCmd) isCommand() {}

type PlayCmd struct{ Reply chan error }

func (PlayCmd) isCommand() {}

type PauseCmd struct {
	Behavior pipeline.PauseBehavior
	Reply    chan error
}

func (PauseCmd) isCommand() {}

type SeekCmd struct {
	PositionMs int64
	Reply      chan error
}

func (SeekCmd) isCommand() {}

type StopCmd struct {
	Behavior pipeline.StopBehavior
	Reply    chan error
}

func (StopCmd) isCommand() {}

type ApplyPipelinePlanCmd struct {
	Plan  pipeline.Plan
	Reply chan error
}

func (ApplyPipelinePlanCmd) isCommand() {}

type ApplyPipelineMutationCmd struct {
	Mutation pipeline.Mutation
	Reply    chan error
}

func (ApplyPipelineMutationCmd) isCommand() {}

type SetLfeModeCmd struct {
	Mode  pipeline.LFEMode
	Reply chan error
}

func (SetLfeModeCmd) isCommand() {}

type SetResampleQualityCmd struct {
	Quality pipeline.ResampleQuality
	Reply   chan error
}

func (SetResampleQualityCmd) isCommand() {}

type ApplyStageControlCmd struct {
	StageKey string
	Control  any
	Reply    chan error
}

func (ApplyStageControlCmd) isCommand() {}

type SnapshotCmd struct {
	Reply chan Snapshot
}

func (SnapshotCmd) isCommand() {}

type ShutdownCmd struct{ Reply chan error }

func (ShutdownCmd) isCommand() {}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// Actor is the control actor instance. Run must be started on its own
// goroutine before Submit is called.
type Actor struct {
	worker               *worker.Worker
	hub                  *eventhub.Hub
	decodeCommandTimeout time.Duration

	commands     chan Command
	workerEvents chan worker.Event
	done         chan struct{}

	snapshot Snapshot
}

// NewActor constructs an Actor publishing onto hub. AttachWorker must be
// called with the decode worker it will drive before Run starts servicing
// commands that reach the worker.
func NewActor(hub *eventhub.Hub, decodeCommandTimeout time.Duration) *Actor {
	return &Actor{
		hub:                  hub,
		decodeCommandTimeout: decodeCommandTimeout,
		commands:             make(chan Command, 32),
		workerEvents:         make(chan worker.Event, 256),
		done:                 make(chan struct{}),
	}
}

// AttachWorker installs the decode worker this actor drives. It must be
// called exactly once, before Run is started.
func (a *Actor) AttachWorker(w *worker.Worker) error {
	if a.worker != nil {
		return ctlerr.WorkerAlreadyInstalledError{}
	}
	a.worker = w
	return nil
}

// EventCallback returns the callback to pass to worker.New. It posts onto
// the actor's own mailbox without blocking, per spec §9.
func (a *Actor) EventCallback() worker.EventCallback {
	return func(ev worker.Event) {
		select {
		case a.workerEvents <- ev:
		default:
			log.Printf("control actor: worker event dropped, mailbox full")
		}
	}
}

// Submit enqueues cmd without blocking; a full mailbox reports
// ctlerr.QueueFullError.
func (a *Actor) Submit(cmd Command) error {
	select {
	case a.commands <- cmd:
		return nil
	default:
		return ctlerr.QueueFullError{}
	}
}

// Done closes once Run has processed a ShutdownCmd.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Run services commands and decode-worker events until ShutdownCmd.
func (a *Actor) Run() {
	defer close(a.done)
	for {
		select {
		case cmd, ok := <-a.commands:
			if !ok {
				return
			}
			if a.handle(cmd) {
				return
			}
		case ev := <-a.workerEvents:
			a.onWorkerEvent(ev)
		}
	}
}

// callWorker submits cmd to the decode worker and blocks for its reply
// under decodeCommandTimeout. A timeout is advisory (spec §9): the worker
// may still complete the command and emit events afterward.
func (a *Actor) callWorker(cmd worker.Command, replyCh chan error, name string) error {
	if a.worker == nil {
		return ctlerr.WorkerNotInstalledError{}
	}
	if err := a.worker.Submit(cmd); err != nil {
		return err
	}
	select {
	case err := <-replyCh:
		return err
	case <-time.After(a.decodeCommandTimeout):
		return ctlerr.CommandTimedOutError{Command: name}
	}
}

func (a *Actor) handle(cmd Command) (shutdown bool) {
	switch c := cmd.(type) {
	case OpenCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.OpenCmd{Input: c.Input, StartPlaying: c.StartPlaying, Reply: replyCh}, replyCh, "open")
		if err == nil {
			a.updateTrack(c.Input, true)
			if c.StartPlaying {
				a.updateState(worker.StatePlaying)
			}
		}
		reply(c.Reply, err)
	case QueueNextCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.QueueNextCmd{Input: c.Input, Reply: replyCh}, replyCh, "queue_next")
		reply(c.Reply, err)
	case PlayCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.PlayCmd{Reply: replyCh}, replyCh, "play")
		if err == nil {
			a.updateState(worker.StatePlaying)
		}
		reply(c.Reply, err)
	case PauseCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.PauseCmd{Behavior: c.Behavior, Reply: replyCh}, replyCh, "pause")
		if err == nil {
			a.updateState(worker.StatePaused)
		}
		reply(c.Reply, err)
	case SeekCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.SeekCmd{PositionMs: c.PositionMs, Reply: replyCh}, replyCh, "seek")
		if err == nil {
			a.updatePosition(c.PositionMs)
		}
		reply(c.Reply, err)
	case StopCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.StopCmd{Behavior: c.Behavior, Reply: replyCh}, replyCh, "stop")
		if err == nil {
			a.clearTrack()
			a.updateState(worker.StateStopped)
		}
		reply(c.Reply, err)
	case ApplyPipelinePlanCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.ApplyPipelinePlanCmd{Plan: c.Plan, Reply: replyCh}, replyCh, "apply_pipeline_plan")
		reply(c.Reply, err)
	case ApplyPipelineMutationCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.ApplyPipelineMutationCmd{Mutation: c.Mutation, Reply: replyCh}, replyCh, "apply_pipeline_mutation")
		reply(c.Reply, err)
	case SetLfeModeCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.SetLfeModeCmd{Mode: c.Mode, Reply: replyCh}, replyCh, "set_lfe_mode")
		reply(c.Reply, err)
	case SetResampleQualityCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.SetResampleQualityCmd{Quality: c.Quality, Reply: replyCh}, replyCh, "set_resample_quality")
		reply(c.Reply, err)
	case ApplyStageControlCmd:
		replyCh := make(chan error, 1)
		err := a.callWorker(worker.ApplyStageControlCmd{StageKey: c.StageKey, Control: c.Control, Reply: replyCh}, replyCh, "apply_stage_control")
		reply(c.Reply, err)
	case SnapshotCmd:
		if c.Reply != nil {
			select {
			case c.Reply <- a.snapshot:
			default:
			}
		}
	case ShutdownCmd:
		a.handleShutdown()
		reply(c.Reply, nil)
		return true
	}
	return false
}

func (a *Actor) handleShutdown() {
	if a.worker != nil {
		replyCh := make(chan error, 1)
		_ = a.callWorker(worker.ShutdownCmd{Reply: replyCh}, replyCh, "shutdown")
		<-a.worker.Done()
	}
	a.clearTrack()
	a.updateState(worker.StateStopped)
}

// updateState is a no-op when next equals the cached state, suppressing
// duplicate StateChanged events (spec §4.6).
func (a *Actor) updateState(next PlayerState) {
	if a.snapshot.State == next {
		return
	}
	a.snapshot.State = next
	a.hub.Emit(eventhub.Event{Kind: eventhub.KindStateChanged, State: eventhub.PlayerState(next)})
}

// updatePosition is a no-op when ms equals the cached position, suppressing
// duplicate Position events: a Seek success updates the snapshot
// directly for low-latency reads, and the decode worker's own
// EventPosition for the same change arrives shortly after through
// onWorkerEvent, so without this guard every successful seek would emit
// KindPosition twice.
func (a *Actor) updatePosition(ms int64) {
	if ms < 0 {
		ms = 0
	}
	if a.snapshot.PositionMs == ms {
		return
	}
	a.snapshot.PositionMs = ms
	a.hub.Emit(eventhub.Event{Kind: eventhub.KindPosition, PositionMs: ms})
}

// updateTrack is a no-op when input/has already match the cached snapshot,
// suppressing duplicate TrackChanged events for the same reason updatePosition
// does: Open's direct update and the worker's async EventTrackChanged both
// target the same track.
func (a *Actor) updateTrack(input stage.InputRef, has bool) {
	if a.snapshot.CurrentTrack == input && a.snapshot.HasTrack == has {
		return
	}
	a.snapshot.CurrentTrack = input
	a.snapshot.HasTrack = has
	a.hub.Emit(eventhub.Event{Kind: eventhub.KindTrackChanged, Track: input})
}

func (a *Actor) clearTrack() {
	a.snapshot.CurrentTrack = ""
	a.snapshot.HasTrack = false
}

// onWorkerEvent translates a decode-worker event into a snapshot mutation
// plus re-emission on the event hub (spec §4.6, "Event translation").
// Error and EOF force current_track = None and state = Stopped.
func (a *Actor) onWorkerEvent(ev worker.Event) {
	switch ev.Kind {
	case worker.EventStateChanged:
		a.updateState(ev.State)
	case worker.EventTrackChanged:
		a.updateTrack(ev.Track, true)
	case worker.EventPosition:
		a.updatePosition(ev.PositionMs)
	case worker.EventRecovering:
		a.hub.Emit(eventhub.Event{Kind: eventhub.KindRecovering, Attempt: ev.Attempt, BackoffMs: ev.BackoffMs})
	case worker.EventEof:
		a.clearTrack()
		a.updateState(worker.StateStopped)
		a.hub.Emit(eventhub.Event{Kind: eventhub.KindEof})
	case worker.EventError:
		a.clearTrack()
		a.updateState(worker.StateStopped)
		a.hub.Emit(eventhub.Event{Kind: eventhub.KindError, Message: ev.Message})
	}
}
