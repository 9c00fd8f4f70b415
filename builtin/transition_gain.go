package builtin

import (
	"github.com/rebeljah/stellatune-audio/gain"
	"github.com/rebeljah/stellatune-audio/stage"
)

// TransitionGain carries a transient fade ramp (fade-in/out requests from
// the gain package's helpers), layered multiplicatively on top of
// MasterGain so a volume change mid-fade never clobbers the ramp.
type TransitionGain struct {
	spec stage.StreamSpec

	active        bool
	start         float32
	end           float32
	curve         gain.Curve
	totalFrames   int64
	elapsedFrames int64
}

// NewTransitionGain returns a TransitionGain settled at unity gain.
func NewTransitionGain() *TransitionGain {
	return &TransitionGain{start: 1, end: 1}
}

func (t *TransitionGain) StageKey() (string, bool) { return gain.TransitionGainStageKey, true }

func (t *TransitionGain) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) (stage.StreamSpec, error) {
	t.spec = spec
	return spec, nil
}

func (t *TransitionGain) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }

func (t *TransitionGain) Process(block *stage.AudioBlock, pctx *stage.PipelineContext) stage.Status {
	if !t.active {
		return stage.StatusOK
	}

	channels := int(block.Spec.Channels)
	for f := 0; f < block.Frames; f++ {
		level := t.end
		if t.elapsedFrames < t.totalFrames {
			frac := float32(1)
			if t.totalFrames > 0 {
				frac = float32(t.elapsedFrames) / float32(t.totalFrames)
			}
			level = t.curve.Apply(t.start, t.end, frac)
			t.elapsedFrames++
		}

		base := f * channels
		for c := 0; c < channels; c++ {
			block.Data[base+c] *= level
		}
	}

	if t.elapsedFrames >= t.totalFrames {
		t.active = false
	}
	return stage.StatusOK
}

func (t *TransitionGain) ApplyControl(control any, pctx *stage.PipelineContext) (bool, error) {
	c, ok := control.(gain.TransitionGainControl)
	if !ok {
		return false, nil
	}

	req := c.Request
	t.start = req.StartLevel
	t.end = req.EndLevel
	t.curve = req.Curve
	t.elapsedFrames = 0

	if t.spec.SampleRate > 0 {
		t.totalFrames = int64(req.DurationMs) * int64(t.spec.SampleRate) / 1000
	} else {
		t.totalFrames = 0
	}

	t.active = t.totalFrames > 0
	if !t.active {
		t.start = req.EndLevel
		t.end = req.EndLevel
	}
	return true, nil
}

func (t *TransitionGain) Flush(pctx *stage.PipelineContext) error {
	t.active = false
	return nil
}

func (t *TransitionGain) Stop(pctx *stage.PipelineContext) {}
