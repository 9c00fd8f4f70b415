package builtin

import (
	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/stage"
)

// LocalPlan resolves an InputRef straight to a local file path: the demo
// binary has no plugin/codec registry to consult, so Plan is the identity
// transform (grounded on source_local.rs, which likewise treats a local
// path as already a fully-resolved plan).
type LocalPlan struct {
	Path string
}

func (p LocalPlan) PlanID() string { return p.Path }

// LocalAssembler turns a filesystem path InputRef into a LocalPlan.
type LocalAssembler struct{}

// NewLocalAssembler returns the demo's only Assembler: local WAV files.
func NewLocalAssembler() LocalAssembler { return LocalAssembler{} }

func (LocalAssembler) Plan(input stage.InputRef) (pipeline.Plan, error) {
	return LocalPlan{Path: string(input)}, nil
}

// LocalRuntime materializes LocalPlans into a WAV source/decoder feeding a
// Mixer + MasterGain + TransitionGain chain into a NullSink, the concrete
// stage set the demo binary exercises end to end.
//
// The Mixer it assembles starts with LFEMode/ResampleQuality defaults;
// the decode worker's buildPipeline sets AssembledPipeline.LFEMode/
// ResampleQuality from its own policy state after Ensure returns, and
// IntoRunner pushes those fields into the Mixer via
// pipeline.PolicyAwareTransform immediately before the runner is built, so
// the values assembled here are only ever the pre-rebuild starting point.
//
// ApplyPipelineMutation persists its mutations rather than applying them to
// a live pipeline directly, since Ensure is re-called with a fresh
// AssembledPipeline on every rebuild (buildPipeline in the decode worker
// never reuses the previous instance). Ensure replays every persisted
// mutation against the freshly built pipeline, the same
// persist-then-replay-on-rebuild idiom the worker package uses for stage
// controls.
type LocalRuntime struct {
	outChannels uint16
	mutations   []pipeline.Mutation
}

// NewLocalRuntime returns a runtime that mixes down/up to outChannels.
func NewLocalRuntime(outChannels uint16) *LocalRuntime {
	return &LocalRuntime{outChannels: outChannels}
}

func (r *LocalRuntime) Ensure(plan pipeline.Plan) (*pipeline.AssembledPipeline, error) {
	if _, ok := plan.(LocalPlan); !ok {
		return nil, errNotWav{}
	}

	masterGain := NewMasterGain()
	transitionGain := NewTransitionGain()
	mixer := NewMixer(r.outChannels, false)

	transforms := []pipeline.AssembledTransform{
		{Stage: mixer},
	}
	if key, ok := masterGain.StageKey(); ok {
		transforms = append(transforms, pipeline.AssembledTransform{StageKey: key, HasKey: true, Stage: masterGain})
	}
	if key, ok := transitionGain.StageKey(); ok {
		transforms = append(transforms, pipeline.AssembledTransform{StageKey: key, HasKey: true, Stage: transitionGain})
	}

	assembled := &pipeline.AssembledPipeline{
		Source:          NewWavSource(),
		Decoder:         NewWavDecoder(),
		Transforms:      transforms,
		Sink:            NewNullSink(),
		LFEMode:         pipeline.LFEModeAuto,
		ResampleQuality: pipeline.ResampleQualityBalanced,
	}

	for _, m := range r.mutations {
		if err := m.Apply(assembled); err != nil {
			return nil, err
		}
	}
	return assembled, nil
}

func (r *LocalRuntime) ApplyPipelineMutation(mutation pipeline.Mutation) error {
	r.mutations = append(r.mutations, mutation)
	return nil
}

func (r *LocalRuntime) Reset() {
	r.mutations = nil
}
