package gain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rebeljah/stellatune-audio/stage"
)

func TestCurveApplyLinear(t *testing.T) {
	require.Equal(t, float32(0), CurveLinear.Apply(0, 1, 0))
	require.Equal(t, float32(1), CurveLinear.Apply(0, 1, 1))
	require.InDelta(t, float32(0.5), CurveLinear.Apply(0, 1, 0.5), 1e-6)
}

func TestCurveApplyEqualPower(t *testing.T) {
	require.Equal(t, float32(1), CurveEqualPower.Apply(1, 0, 0))
	require.Equal(t, float32(0), CurveEqualPower.Apply(1, 0, 1))
	mid := CurveEqualPower.Apply(1, 0, 0.5)
	require.Greater(t, mid, float32(0))
	require.Less(t, mid, float32(1))
}

func TestNewMasterGainControlClamps(t *testing.T) {
	require.Equal(t, float32(0), NewMasterGainControl(-1).Level)
	require.Equal(t, float32(1), NewMasterGainControl(2).Level)
	require.Equal(t, float32(0.5), NewMasterGainControl(0.5).Level)
}

func TestHotControlSetAndSnapshot(t *testing.T) {
	h := NewHotControl(0.5)
	level, gen := h.Snapshot()
	require.Equal(t, float32(0.5), level)
	require.Equal(t, uint64(0), gen)

	h.Set(0.75)
	level, gen = h.Snapshot()
	require.Equal(t, float32(0.75), level)
	require.Equal(t, uint64(1), gen)
}

func TestHotControlConcurrentSetNeverTears(t *testing.T) {
	h := NewHotControl(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(level float32) {
			defer wg.Done()
			h.Set(level)
		}(float32(i) / 50)
	}
	wg.Wait()

	level, _ := h.Snapshot()
	require.GreaterOrEqual(t, level, float32(0))
	require.LessOrEqual(t, level, float32(1))
}

// fakeRunner implements gain.Runner for the transition-helper tests below.
type fakeRunner struct {
	mu              sync.Mutex
	applied         []any
	remainingFrames uint64
	hasRemaining    bool
}

func (f *fakeRunner) ApplyTransformControlTo(stageKey string, control any, pctx *stage.PipelineContext) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, control)
	return true, nil
}

func (f *fakeRunner) PlayableRemainingFramesHint() (uint64, bool) {
	return f.remainingFrames, f.hasRemaining
}

func TestApplyMasterGainLevelToRunner(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, ApplyMasterGainLevelToRunner(r, nil, 0.4))
	require.Len(t, r.applied, 1)
	control, ok := r.applied[0].(MasterGainControl)
	require.True(t, ok)
	require.Equal(t, float32(0.4), control.Level)
}

func TestRequestFadeInWithRunner(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, RequestFadeInWithRunner(r, nil, DefaultTransitionConfig(), 24))
	require.Len(t, r.applied, 1)
	control, ok := r.applied[0].(TransitionGainControl)
	require.True(t, ok)
	require.Equal(t, float32(0), control.Request.StartLevel)
	require.Equal(t, float32(1), control.Request.EndLevel)
}

func TestRunInterruptFadeOutExactWaitsFullDuration(t *testing.T) {
	r := &fakeRunner{}
	cfg := DefaultTransitionConfig()
	cfg.FadeOutTimePolicy = TimePolicyExact

	start := time.Now()
	require.NoError(t, RunInterruptFadeOut(r, nil, cfg, 20, 44100))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	require.Less(t, elapsed, 20*time.Millisecond+time.Duration(cfg.InterruptMaxExtraWaitMs)*time.Millisecond+50*time.Millisecond)
}

func TestRunInterruptFadeOutFitsToAvailableAudio(t *testing.T) {
	// Only 441 frames available at 44100Hz is 10ms, well under the
	// requested 500ms fade-out target, so the wait should clamp down.
	r := &fakeRunner{remainingFrames: 441, hasRemaining: true}
	cfg := DefaultTransitionConfig()
	cfg.FadeOutTimePolicy = TimePolicyFitToAvailable

	start := time.Now()
	require.NoError(t, RunInterruptFadeOut(r, nil, cfg, 500, 44100))
	elapsed := time.Since(start)

	require.Less(t, elapsed, 200*time.Millisecond)
}

func TestMasterGainStageKeysAreStable(t *testing.T) {
	require.Equal(t, "builtin.master_gain", MasterGainStageKey)
	require.Equal(t, "builtin.transition_gain", TransitionGainStageKey)
}
