package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rebeljah/stellatune-audio/sink"
)

func TestIntoRunnerDefaultsBlockFramesWhenUnconfigured(t *testing.T) {
	assembled := &AssembledPipeline{Source: &passthroughSource{}, Decoder: &fakeDecoder{}, Sink: &fakeSink{}}
	runner := assembled.IntoRunner(sink.LatencyConfig{})
	require.Equal(t, 128, runner.blockFrames)
	require.Equal(t, -1, runner.pendingIdx)
	require.Equal(t, RunnerStopped, runner.state)
}

func TestIntoRunnerUsesConfiguredBlockFrames(t *testing.T) {
	assembled := &AssembledPipeline{Source: &passthroughSource{}, Decoder: &fakeDecoder{}, Sink: &fakeSink{}}
	runner := assembled.IntoRunner(sink.LatencyConfig{BlockFrames: 256})
	require.Equal(t, 256, runner.blockFrames)
}

// policyAwareTransform is a fakeTransform that also records the
// LFEMode/ResampleQuality it was last handed via ApplyPipelinePolicy.
type policyAwareTransform struct {
	fakeTransform
	lfeMode LFEMode
	quality ResampleQuality
	calls   int
}

func (t *policyAwareTransform) ApplyPipelinePolicy(lfeMode LFEMode, quality ResampleQuality) {
	t.lfeMode = lfeMode
	t.quality = quality
	t.calls++
}

func TestIntoRunnerPushesLFEModeAndResampleQualityIntoPolicyAwareTransforms(t *testing.T) {
	aware := &policyAwareTransform{}
	plain := &fakeTransform{}
	assembled := &AssembledPipeline{
		Source:  &passthroughSource{},
		Decoder: &fakeDecoder{},
		Sink:    &fakeSink{},
		Transforms: []AssembledTransform{
			{Stage: aware},
			{Stage: plain},
		},
		LFEMode:         LFEModeDiscard,
		ResampleQuality: ResampleQualityHigh,
	}

	assembled.IntoRunner(sink.LatencyConfig{})

	require.Equal(t, 1, aware.calls, "IntoRunner must push policy into every PolicyAwareTransform exactly once")
	require.Equal(t, LFEModeDiscard, aware.lfeMode)
	require.Equal(t, ResampleQualityHigh, aware.quality)
}
