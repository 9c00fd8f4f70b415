// Package stage defines the abstract decoder / transform / sink capability
// contracts that the pipeline runner steps a block through. Concrete codec,
// transform, and sink implementations (FLAC/MP3/NCM decoders, resamplers,
// device sinks) are collaborators outside this module; this package only
// describes the shape they must satisfy.
package stage

import "context"

// Status is the outcome of stepping a stage through one audio block.
type Status int

const (
	// StatusOK means the stage produced or consumed a block normally.
	StatusOK Status = iota
	// StatusEOF means the stage reached the natural end of the track.
	StatusEOF
	// StatusFatal means the stage failed unrecoverably; Detail on the
	// originating stage describes why.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEOF:
		return "eof"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status ends the track (EOF or Fatal).
func (s Status) IsTerminal() bool {
	return s == StatusEOF || s == StatusFatal
}

// InputRef is an opaque track reference. The core never interprets its
// contents; only external resolvers (source stages) do.
type InputRef string

// SourceHandle is an opaque carrier produced by a Source stage and consumed
// by a Decoder stage, typically wrapping a track token or file descriptor.
type SourceHandle interface{}

// StreamSpec describes the PCM shape flowing between stages.
type StreamSpec struct {
	SampleRate uint32
	Channels   uint16
}

// Valid reports whether the spec can carry audio.
func (s StreamSpec) Valid() bool {
	return s.SampleRate > 0 && s.Channels > 0
}

// GaplessTrimSpec describes sample counts to trim from the head/tail of a
// track to achieve gapless playback.
type GaplessTrimSpec struct {
	LeadInFrames  uint64
	LeadOutFrames uint64
}

// IsDisabled reports whether the trim spec has no effect.
func (g GaplessTrimSpec) IsDisabled() bool {
	return g.LeadInFrames == 0 && g.LeadOutFrames == 0
}

// AudioBlock is a bounded chunk of interleaved f32 audio flowing through the
// pipeline. Frames is the number of sample frames actually populated in
// Data; Data's capacity may exceed Frames*Channels to allow stage reuse.
type AudioBlock struct {
	Data    []float32
	Frames  int
	Spec    StreamSpec
}

// Reset clears the block for reuse without releasing its backing array.
func (b *AudioBlock) Reset() {
	b.Frames = 0
}

// PipelineContext is per-track scratch state shared with every stage across
// one prepare→playing→stopped lifetime. A new context is created for every
// runner build (open, prewarm, rebuild); a seek keeps the context and
// reseats it.
type PipelineContext struct {
	// PositionMs is monotonic-within-track; writable by seek and by decode
	// progress. Must never go negative.
	PositionMs int64

	// Generation starts at 0 in a new context and increments on every
	// Reseat; stages may use it to detect "playback restarts here" without
	// tracking their own flag.
	Generation uint64

	// Hot carries stage-specific hot controls (e.g. transient fade state)
	// that must survive a single block step without reallocation.
	Hot map[string]any
}

// NewPipelineContext returns a fresh context for a newly opened track.
func NewPipelineContext() *PipelineContext {
	return &PipelineContext{Hot: make(map[string]any)}
}

// Reseat clamps PositionMs to >=0 and bumps Generation, used by seek,
// including the resume seek a runner rebuild performs on its new context.
func (c *PipelineContext) Reseat(positionMs int64) {
	if positionMs < 0 {
		positionMs = 0
	}
	c.PositionMs = positionMs
	c.Generation++
}

// Source prepares a SourceHandle from an opaque input reference and keeps
// the source in sync with runtime control changes (e.g. device swap).
type Source interface {
	Prepare(ctx context.Context, input InputRef, pctx *PipelineContext) (SourceHandle, error)
	SyncRuntimeControl(pctx *PipelineContext) error
	Stop(pctx *PipelineContext)
}

// Decoder turns a SourceHandle into successive AudioBlocks.
type Decoder interface {
	Prepare(source SourceHandle, pctx *PipelineContext) (StreamSpec, error)
	NextBlock(out *AudioBlock, pctx *PipelineContext) Status
	Flush(pctx *PipelineContext) error
	Stop(pctx *PipelineContext)

	// EstimatedRemainingFrames is a best-effort hint; ok is false when the
	// decoder cannot estimate (e.g. live streams).
	EstimatedRemainingFrames() (frames uint64, ok bool)
	// CurrentGaplessTrimSpec returns the trim spec in effect, if any.
	CurrentGaplessTrimSpec() (GaplessTrimSpec, bool)
	// RuntimeErrorDetail returns extra diagnostic context after a Fatal
	// status from NextBlock, if the decoder has any.
	RuntimeErrorDetail() (string, bool)
}

// Transform mutates (or replaces the shape of) an AudioBlock in place. Each
// transform may be independently controllable at runtime via a stage key.
type Transform interface {
	// StageKey identifies this transform for ApplyControl targeting. A
	// transform with no stable key returns ok=false and can never be
	// targeted directly.
	StageKey() (key string, ok bool)

	Prepare(spec StreamSpec, pctx *PipelineContext) (StreamSpec, error)
	SyncRuntimeControl(pctx *PipelineContext) error
	Process(block *AudioBlock, pctx *PipelineContext) Status

	// ApplyControl applies an opaque, stage-specific control value.
	// handled is false when the control kind is not recognized by this
	// transform (the runner then reports "no matching stage").
	ApplyControl(control any, pctx *PipelineContext) (handled bool, err error)

	Flush(pctx *PipelineContext) error
	Stop(pctx *PipelineContext)
}

// Sink writes finished AudioBlocks to a device or downstream consumer.
// Write obeys back-pressure: accepting 0 frames means "no capacity right
// now"; callers must retry after a short sleep or give up after a stall
// timeout (see sink.Session).
type Sink interface {
	Prepare(spec StreamSpec, pctx *PipelineContext) error
	SyncRuntimeControl(pctx *PipelineContext) error
	// Write returns the number of frames accepted and the resulting status.
	Write(block *AudioBlock, pctx *PipelineContext) (accepted int, status Status)
	Flush(pctx *PipelineContext) error
	Stop(pctx *PipelineContext)
}
