// Package builtin provides concrete stage.Transform implementations for
// the gain package's two-stage gain model (master level + transient
// transition ramp) and a channel-mixing transform, backing the demo binary
// and the engine's own tests.
package builtin

import (
	"github.com/rebeljah/stellatune-audio/gain"
	"github.com/rebeljah/stellatune-audio/stage"
)

// MasterGain applies a user-set level uniformly to every sample. It never
// changes the stream's shape, so Prepare is a pass-through.
type MasterGain struct {
	level float32
}

// NewMasterGain returns a MasterGain at full level.
func NewMasterGain() *MasterGain {
	return &MasterGain{level: 1}
}

func (g *MasterGain) StageKey() (string, bool) { return gain.MasterGainStageKey, true }

func (g *MasterGain) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) (stage.StreamSpec, error) {
	return spec, nil
}

func (g *MasterGain) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }

func (g *MasterGain) Process(block *stage.AudioBlock, pctx *stage.PipelineContext) stage.Status {
	if g.level == 1 {
		return stage.StatusOK
	}
	n := block.Frames * int(block.Spec.Channels)
	for i := 0; i < n; i++ {
		block.Data[i] *= g.level
	}
	return stage.StatusOK
}

func (g *MasterGain) ApplyControl(control any, pctx *stage.PipelineContext) (bool, error) {
	c, ok := control.(gain.MasterGainControl)
	if !ok {
		return false, nil
	}
	g.level = c.Level
	return true, nil
}

func (g *MasterGain) Flush(pctx *stage.PipelineContext) error { return nil }
func (g *MasterGain) Stop(pctx *stage.PipelineContext)        {}
