package builtin

import (
	"github.com/rebeljah/stellatune-audio/stage"
)

// NullSink discards every block it is handed. The example corpus carries no
// local audio-device or PCM file-sink library (picast streams RTP to a
// remote player; it never opens a local device), so the demo binary's sink
// is this deliberately minimal stand-in rather than a fabricated device
// adapter. Queue-depth metrics belong to sink.Session, the component that
// actually owns the write queue this stage feeds into; NullSink has no
// visibility into queue depth and no longer pretends to report it.
type NullSink struct {
	spec stage.StreamSpec
}

// NewNullSink returns a sink that accepts and discards audio.
func NewNullSink() *NullSink {
	return &NullSink{}
}

func (s *NullSink) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) error {
	s.spec = spec
	return nil
}

func (s *NullSink) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }

func (s *NullSink) Write(block *stage.AudioBlock, pctx *stage.PipelineContext) (int, stage.Status) {
	return block.Frames, stage.StatusOK
}

func (s *NullSink) Flush(pctx *stage.PipelineContext) error { return nil }
func (s *NullSink) Stop(pctx *stage.PipelineContext)        {}
