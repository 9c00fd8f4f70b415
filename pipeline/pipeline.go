// Package pipeline implements the pipeline runner (spec §4.2): the state
// machine that steps one bounded audio block at a time through an
// assembled source → decoder → transforms → sink chain, and exposes the
// control operations (seek, pause, activate sink, apply transform control)
// that sit atop it.
package pipeline

import (
	"github.com/rebeljah/stellatune-audio/sink"
	"github.com/rebeljah/stellatune-audio/stage"
)

// Plan is produced by an external PipelineAssembler and describes which
// decoder, transform sequence, and sink configuration to materialize. The
// core treats it as an opaque token passed to Runtime.Ensure.
type Plan interface {
	// PlanID is a stable identifier used for logging only.
	PlanID() string
}

// Mutation describes an in-place change to an already-assembled pipeline
// (spec §6, PipelineRuntime::apply_pipeline_mutation). Apply receives the
// AssembledPipeline to mutate before a new runner is built from it.
type Mutation struct {
	Describe string
	Apply    func(*AssembledPipeline) error
}

// Assembler is the external collaborator that turns an opaque InputRef
// into a Plan.
type Assembler interface {
	Plan(input stage.InputRef) (Plan, error)
}

// Runtime is the external collaborator that materializes Plans into
// AssembledPipelines and tracks pipeline-level mutation/reset state.
type Runtime interface {
	Ensure(plan Plan) (*AssembledPipeline, error)
	ApplyPipelineMutation(mutation Mutation) error
	Reset()
}

// AssembledTransform pairs a transform stage with its declared-order
// position; StageKey caches the stage's own key (if any) for fast lookup
// during ApplyTransformControlTo.
type AssembledTransform struct {
	StageKey string
	HasKey   bool
	Stage    stage.Transform
}

// LFEMode governs low-frequency-effects channel handling in a mandatory
// mixer transform (spec §4.2 "mixer transform is mandatory" tie-break).
type LFEMode int

const (
	LFEModeAuto LFEMode = iota
	LFEModeDownmix
	LFEModeDiscard
)

// ResampleQuality selects the resampler transform's quality/latency
// tradeoff.
type ResampleQuality int

const (
	ResampleQualityLow ResampleQuality = iota
	ResampleQualityBalanced
	ResampleQualityHigh
)

// PolicyAwareTransform is implemented by transforms that react to
// AssembledPipeline's hot LFEMode/ResampleQuality fields. IntoRunner calls
// ApplyPipelinePolicy on every transform implementing it immediately before
// materializing the Runner, mirroring
// original_source/crates/stellatune-audio/src/workers/decode/pipeline_policies.rs's
// apply_decode_policies, which mutates the live mixer's lfe_mode and
// resampler's quality fields in place "before into_runner".
type PolicyAwareTransform interface {
	ApplyPipelinePolicy(lfeMode LFEMode, resampleQuality ResampleQuality)
}

// AssembledPipeline is the concrete stage set materialized from a Plan:
// one source/decoder, an ordered transform list with stable keys, one
// sink. LFEMode and ResampleQuality are mutated only on the decode-worker
// thread before IntoRunner consumes them (spec §5 shared-resource policy).
type AssembledPipeline struct {
	Source     stage.Source
	Decoder    stage.Decoder
	Transforms []AssembledTransform
	Sink       stage.Sink

	LFEMode         LFEMode
	ResampleQuality ResampleQuality
}

// IntoRunner builds a fresh PipelineRunner bound to this assembled set.
// latency.BlockFrames sizes the runner's scratch decode buffer.
func (a *AssembledPipeline) IntoRunner(latency sink.LatencyConfig) *Runner {
	for _, t := range a.Transforms {
		if aware, ok := t.Stage.(PolicyAwareTransform); ok {
			aware.ApplyPipelinePolicy(a.LFEMode, a.ResampleQuality)
		}
	}

	blockFrames := int(latency.BlockFrames)
	if blockFrames < 1 {
		blockFrames = 128
	}
	return &Runner{
		source:      a.Source,
		decoder:     a.Decoder,
		transforms:  a.Transforms,
		sinkStage:   a.Sink,
		state:       RunnerStopped,
		blockFrames: blockFrames,
		pendingIdx:  -1,
	}
}
