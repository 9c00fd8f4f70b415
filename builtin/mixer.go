package builtin

import (
	"math"

	"github.com/rebeljah/stellatune-audio/pipeline"
	"github.com/rebeljah/stellatune-audio/stage"
)

// equalPowerFoldGain attenuates a folded-in channel by 1/sqrt(2) (the same
// equal-power law gain.CurveEqualPower uses for gain ramps) instead of a
// bare sum, so ResampleQualityHigh's fold-down doesn't stack two full-scale
// channels into a hotter signal than either one alone.
var equalPowerFoldGain = float32(1 / math.Sqrt2)

// Mixer adapts a decoder's channel count to the sink's negotiated channel
// count. It is the mandatory transform spec §4.2 requires whenever those
// counts differ, ordered before any resampler. No stage key: it is never a
// direct ApplyControl target; instead it implements pipeline.PolicyAwareTransform
// so IntoRunner can push AssembledPipeline.LFEMode/ResampleQuality into it.
type Mixer struct {
	outChannels uint16
	lfeDiscard  bool
	quality     pipeline.ResampleQuality

	inChannels uint16
}

// NewMixer targets outChannels. lfeDiscard drops the trailing input
// channel on downmix instead of folding it into the mix (LFEModeDiscard
// vs LFEModeDownmix) — overridden by any later ApplyPipelinePolicy call.
func NewMixer(outChannels uint16, lfeDiscard bool) *Mixer {
	return &Mixer{outChannels: outChannels, lfeDiscard: lfeDiscard}
}

// ApplyPipelinePolicy implements pipeline.PolicyAwareTransform: lfeMode
// selects fold-down vs discard for the trailing channel on downmix, and
// quality selects plain summation (Low/Balanced) vs equal-power-attenuated
// folding (High) to avoid clipping headroom loss on fold-down.
func (m *Mixer) ApplyPipelinePolicy(lfeMode pipeline.LFEMode, quality pipeline.ResampleQuality) {
	m.lfeDiscard = lfeMode == pipeline.LFEModeDiscard
	m.quality = quality
}

func (m *Mixer) StageKey() (string, bool) { return "", false }

func (m *Mixer) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) (stage.StreamSpec, error) {
	m.inChannels = spec.Channels
	out := m.outChannels
	if out == 0 {
		out = spec.Channels
	}
	return stage.StreamSpec{SampleRate: spec.SampleRate, Channels: out}, nil
}

func (m *Mixer) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }

func (m *Mixer) Process(block *stage.AudioBlock, pctx *stage.PipelineContext) stage.Status {
	in := int(m.inChannels)
	out := int(m.outChannels)
	if in == 0 || out == 0 || in == out {
		return stage.StatusOK
	}

	frames := block.Frames
	mixed := make([]float32, frames*out)

	for f := 0; f < frames; f++ {
		inBase := f * in
		outBase := f * out

		if in > out {
			limit := in
			if m.lfeDiscard {
				limit = in - 1
			}
			for c := 0; c < out; c++ {
				mixed[outBase+c] = block.Data[inBase+c]
			}
			foldGain := float32(1)
			if m.quality == pipeline.ResampleQualityHigh {
				foldGain = equalPowerFoldGain
			}
			for c := out; c < limit; c++ {
				mixed[outBase+out-1] += block.Data[inBase+c] * foldGain
			}
		} else {
			for c := 0; c < in; c++ {
				mixed[outBase+c] = block.Data[inBase+c]
			}
			for c := in; c < out; c++ {
				mixed[outBase+c] = block.Data[inBase+in-1]
			}
		}
	}

	if cap(block.Data) < len(mixed) {
		block.Data = mixed
	} else {
		block.Data = block.Data[:len(mixed)]
		copy(block.Data, mixed)
	}
	block.Spec.Channels = m.outChannels
	return stage.StatusOK
}

func (m *Mixer) ApplyControl(control any, pctx *stage.PipelineContext) (bool, error) {
	return false, nil
}

func (m *Mixer) Flush(pctx *stage.PipelineContext) error { return nil }
func (m *Mixer) Stop(pctx *stage.PipelineContext)        {}
