package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rebeljah/stellatune-audio/sink"
	"github.com/rebeljah/stellatune-audio/stage"
)

// passthroughSource satisfies stage.Source with a nil handle; the fake
// decoders below never read from the handle, so this is sufficient.
type passthroughSource struct{ stopped bool }

func (s *passthroughSource) Prepare(ctx context.Context, input stage.InputRef, pctx *stage.PipelineContext) (stage.SourceHandle, error) {
	return nil, nil
}
func (s *passthroughSource) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }
func (s *passthroughSource) Stop(pctx *stage.PipelineContext)                    { s.stopped = true }

type fakeDecoder struct {
	blocksLeft int
	frames     int
	channels   uint16
	sampleRate uint32
}

func (d *fakeDecoder) Prepare(source stage.SourceHandle, pctx *stage.PipelineContext) (stage.StreamSpec, error) {
	return stage.StreamSpec{SampleRate: d.sampleRate, Channels: d.channels}, nil
}

func (d *fakeDecoder) NextBlock(out *stage.AudioBlock, pctx *stage.PipelineContext) stage.Status {
	if d.blocksLeft <= 0 {
		return stage.StatusEOF
	}
	d.blocksLeft--
	n := d.frames * int(d.channels)
	if cap(out.Data) < n {
		out.Data = make([]float32, n)
	} else {
		out.Data = out.Data[:n]
	}
	for i := range out.Data {
		out.Data[i] = 1
	}
	out.Frames = d.frames
	out.Spec = stage.StreamSpec{SampleRate: d.sampleRate, Channels: d.channels}
	return stage.StatusOK
}

func (d *fakeDecoder) Flush(pctx *stage.PipelineContext) error { return nil }
func (d *fakeDecoder) Stop(pctx *stage.PipelineContext)        {}
func (d *fakeDecoder) EstimatedRemainingFrames() (uint64, bool) {
	return uint64(d.blocksLeft * d.frames), true
}
func (d *fakeDecoder) CurrentGaplessTrimSpec() (stage.GaplessTrimSpec, bool) {
	return stage.GaplessTrimSpec{}, false
}
func (d *fakeDecoder) RuntimeErrorDetail() (string, bool) { return "", false }

type fakeTransform struct {
	key     string
	hasKey  bool
	applied []any
}

func (t *fakeTransform) StageKey() (string, bool) { return t.key, t.hasKey }
func (t *fakeTransform) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) (stage.StreamSpec, error) {
	return spec, nil
}
func (t *fakeTransform) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }
func (t *fakeTransform) Process(block *stage.AudioBlock, pctx *stage.PipelineContext) stage.Status {
	return stage.StatusOK
}
func (t *fakeTransform) ApplyControl(control any, pctx *stage.PipelineContext) (bool, error) {
	t.applied = append(t.applied, control)
	return true, nil
}
func (t *fakeTransform) Flush(pctx *stage.PipelineContext) error { return nil }
func (t *fakeTransform) Stop(pctx *stage.PipelineContext)        {}

type fakeSink struct {
	acceptAll bool
	written   []int
}

func (s *fakeSink) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) error { return nil }
func (s *fakeSink) SyncRuntimeControl(pctx *stage.PipelineContext) error             { return nil }
func (s *fakeSink) Write(block *stage.AudioBlock, pctx *stage.PipelineContext) (int, stage.Status) {
	if !s.acceptAll {
		return 0, stage.StatusOK
	}
	s.written = append(s.written, block.Frames)
	return block.Frames, stage.StatusOK
}
func (s *fakeSink) Flush(pctx *stage.PipelineContext) error { return nil }
func (s *fakeSink) Stop(pctx *stage.PipelineContext)        {}

func buildTestRunner(t *testing.T, decoder *fakeDecoder, transforms []AssembledTransform) *Runner {
	t.Helper()
	assembled := &AssembledPipeline{
		Source:     &passthroughSource{},
		Decoder:    decoder,
		Transforms: transforms,
		Sink:       &fakeSink{acceptAll: true},
	}
	return assembled.IntoRunner(sink.LatencyConfig{BlockFrames: 64, MinQueueBlocks: 1, MaxQueueBlocks: 4})
}

func TestRunnerPrepareDecodeNegotiatesSpecThroughChain(t *testing.T) {
	decoder := &fakeDecoder{blocksLeft: 1, frames: 64, channels: 2, sampleRate: 44100}
	runner := buildTestRunner(t, decoder, nil)
	pctx := stage.NewPipelineContext()

	require.NoError(t, runner.PrepareDecode("track-1", pctx))
	require.Equal(t, RunnerPrepared, runner.State())
	require.Equal(t, stage.StreamSpec{SampleRate: 44100, Channels: 2}, runner.OutputSpec())
}

func TestRunnerStepAdvancesPositionAndWritesThrough(t *testing.T) {
	decoder := &fakeDecoder{blocksLeft: 2, frames: 441, channels: 2, sampleRate: 44100}
	runner := buildTestRunner(t, decoder, nil)
	pctx := stage.NewPipelineContext()
	require.NoError(t, runner.PrepareDecode("track-1", pctx))

	session := sink.NewSession(sink.LatencyConfig{BlockFrames: 64, MinQueueBlocks: 1, MaxQueueBlocks: 4})
	require.NoError(t, runner.ActivateSink(session, pctx, sink.ImmediateCutover))

	status := runner.Step(pctx)
	require.Equal(t, stage.StatusOK, status)
	require.Equal(t, int64(10), pctx.PositionMs) // 441 frames @ 44100Hz = 10ms
	require.False(t, runner.Backpressured())

	session.Shutdown(true)
}

func TestRunnerStepRetriesSameBlockOnBackpressureWithoutReDecoding(t *testing.T) {
	// A sink that never accepts a write keeps the writer goroutine stuck
	// retrying the block it already dequeued, so once the bounded queue's
	// one remaining slot fills up, Enqueue starts rejecting and Step must
	// retry the same decoded block instead of decoding past it.
	decoder := &fakeDecoder{blocksLeft: 1000, frames: 64, channels: 1, sampleRate: 44100}
	assembled := &AssembledPipeline{
		Source:  &passthroughSource{},
		Decoder: decoder,
		Sink:    &fakeSink{acceptAll: false},
	}
	runner := assembled.IntoRunner(sink.LatencyConfig{BlockFrames: 64, MinQueueBlocks: 1, MaxQueueBlocks: 4})
	pctx := stage.NewPipelineContext()
	require.NoError(t, runner.PrepareDecode("track-1", pctx))

	session := sink.NewSession(sink.LatencyConfig{BlockFrames: 64, MinQueueBlocks: 1, MaxQueueBlocks: 1})
	require.NoError(t, runner.ActivateSink(session, pctx, sink.ImmediateCutover))

	require.Eventually(t, func() bool {
		status := runner.Step(pctx)
		require.Equal(t, stage.StatusOK, status)
		return runner.Backpressured()
	}, time.Second, time.Millisecond)

	blocksAtBackpressure := decoder.blocksLeft
	for i := 0; i < 5; i++ {
		status := runner.Step(pctx)
		require.Equal(t, stage.StatusOK, status)
	}
	require.True(t, runner.Backpressured())
	require.Equal(t, blocksAtBackpressure, decoder.blocksLeft, "back-pressured retry must not advance the decoder")

	session.Shutdown(true)
}

func TestRunnerApplyTransformControlToRoutesByStageKey(t *testing.T) {
	target := &fakeTransform{key: "builtin.master_gain", hasKey: true}
	other := &fakeTransform{key: "builtin.transition_gain", hasKey: true}
	decoder := &fakeDecoder{blocksLeft: 1, frames: 64, channels: 2, sampleRate: 44100}
	transforms := []AssembledTransform{
		{StageKey: other.key, HasKey: true, Stage: other},
		{StageKey: target.key, HasKey: true, Stage: target},
	}
	runner := buildTestRunner(t, decoder, transforms)
	pctx := stage.NewPipelineContext()
	require.NoError(t, runner.PrepareDecode("track-1", pctx))

	handled, err := runner.ApplyTransformControlTo("builtin.master_gain", "level=0.5", pctx)
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, target.applied, 1)
	require.Empty(t, other.applied)
}

func TestRunnerApplyTransformControlToReportsUnhandledForUnknownKey(t *testing.T) {
	decoder := &fakeDecoder{blocksLeft: 1, frames: 64, channels: 2, sampleRate: 44100}
	runner := buildTestRunner(t, decoder, nil)
	pctx := stage.NewPipelineContext()
	require.NoError(t, runner.PrepareDecode("track-1", pctx))

	handled, err := runner.ApplyTransformControlTo("no.such.stage", nil, pctx)
	require.NoError(t, err)
	require.False(t, handled)
}

func TestRunnerPlayableRemainingFramesHint(t *testing.T) {
	decoder := &fakeDecoder{blocksLeft: 3, frames: 64, channels: 2, sampleRate: 44100}
	runner := buildTestRunner(t, decoder, nil)
	pctx := stage.NewPipelineContext()
	require.NoError(t, runner.PrepareDecode("track-1", pctx))

	frames, ok := runner.PlayableRemainingFramesHint()
	require.True(t, ok)
	require.Equal(t, uint64(3*64), frames)
}

func TestRunnerStopTearsDownSourceAndDecoder(t *testing.T) {
	source := &passthroughSource{}
	decoder := &fakeDecoder{blocksLeft: 1, frames: 64, channels: 2, sampleRate: 44100}
	assembled := &AssembledPipeline{Source: source, Decoder: decoder, Sink: &fakeSink{acceptAll: true}}
	runner := assembled.IntoRunner(sink.LatencyConfig{BlockFrames: 64, MinQueueBlocks: 1, MaxQueueBlocks: 4})
	pctx := stage.NewPipelineContext()
	require.NoError(t, runner.PrepareDecode("track-1", pctx))

	runner.Stop(pctx)
	require.True(t, source.stopped)
	require.Equal(t, RunnerStopped, runner.State())
}
