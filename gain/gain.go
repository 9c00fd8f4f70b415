// Package gain implements the shared master-gain hot control and the
// fade-in/fade-out transition helpers described in spec §4.5 and §9. Fades
// are submitted as transient controls to the transition-gain transform
// stage (builtin.transition_gain); the user-set level lives separately on
// the master-gain stage (builtin.master_gain) so a volume change during an
// active fade never clobbers the ramp in progress (see SPEC_FULL.md §5.1).
package gain

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rebeljah/stellatune-audio/stage"
)

// Stage keys targeted by ApplyControl, grounded on the original
// runtime/transform/control.rs constants.
const (
	MasterGainStageKey     = "builtin.master_gain"
	TransitionGainStageKey = "builtin.transition_gain"
	GaplessTrimStageKey    = "builtin.gapless_trim"
)

// Curve shapes a gain ramp between two levels.
type Curve int

const (
	CurveLinear Curve = iota
	CurveEqualPower
)

// Apply returns the gain multiplier at fraction t (0..1) of the ramp from
// start to end under this curve.
func (c Curve) Apply(start, end, t float32) float32 {
	if t <= 0 {
		return start
	}
	if t >= 1 {
		return end
	}
	switch c {
	case CurveEqualPower:
		// quarter-wave equal-power crossfade between start and end
		startW := float32(math.Cos(float64(t) * math.Pi / 2))
		endW := float32(math.Sin(float64(t) * math.Pi / 2))
		return start*startW + end*endW
	default:
		return start + (end-start)*t
	}
}

// TimePolicy governs how a fade-out behaves when less audio remains than
// the configured duration.
type TimePolicy int

const (
	// TimePolicyExact always waits the configured duration.
	TimePolicyExact TimePolicy = iota
	// TimePolicyFitToAvailable clamps the fade to the audio actually
	// available, per playable_remaining_frames_hint.
	TimePolicyFitToAvailable
)

// TransitionConfig is GainTransitionConfig from spec §4.4.
type TransitionConfig struct {
	OpenFadeInMs            uint32
	PlayFadeInMs            uint32
	SeekFadeInMs            uint32
	SeekFadeOutMs           uint32
	PauseFadeOutMs          uint32
	StopFadeOutMs           uint32
	SwitchFadeOutMs         uint32
	Curve                   Curve
	FadeInTimePolicy        TimePolicy
	FadeOutTimePolicy       TimePolicy
	InterruptMaxExtraWaitMs uint32
}

// DefaultTransitionConfig mirrors stellatune-audio/src/config/gain.rs.
func DefaultTransitionConfig() TransitionConfig {
	return TransitionConfig{
		OpenFadeInMs:            24,
		PlayFadeInMs:            24,
		SeekFadeOutMs:           24,
		SeekFadeInMs:            24,
		PauseFadeOutMs:          36,
		StopFadeOutMs:           48,
		SwitchFadeOutMs:         36,
		Curve:                   CurveEqualPower,
		FadeInTimePolicy:        TimePolicyExact,
		FadeOutTimePolicy:       TimePolicyFitToAvailable,
		InterruptMaxExtraWaitMs: 80,
	}
}

// transitionFadeWaitPoll is how often RunInterruptFadeOut re-checks whether
// it should give up waiting, grounded on TRANSITION_FADE_WAIT_POLL_MS.
const transitionFadeWaitPoll = 2 * time.Millisecond

// MasterGainControl is the control value applied to the master-gain stage.
type MasterGainControl struct {
	Level float32
}

// NewMasterGainControl clamps level into [0,1].
func NewMasterGainControl(level float32) MasterGainControl {
	return MasterGainControl{Level: clamp01(level)}
}

// GainTransitionRequest describes one fade ramp.
type GainTransitionRequest struct {
	StartLevel  float32
	EndLevel    float32
	DurationMs  uint32
	Curve       Curve
}

// TransitionGainControl is the control value applied to the transition-gain
// stage to start a new ramp.
type TransitionGainControl struct {
	Request GainTransitionRequest
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HotControl is a lock-free, shared master-gain snapshot read on the audio
// thread and updated from the engine handle. It packs a clamped f32 level
// and a monotonically increasing generation into one atomic word so
// readers never observe a torn update.
type HotControl struct {
	packed atomic.Uint64
}

// NewHotControl returns a hot control initialized to level at generation 0.
func NewHotControl(level float32) *HotControl {
	h := &HotControl{}
	h.packed.Store(uint64(math.Float32bits(clamp01(level))))
	return h
}

// Set installs a new level, bumping the generation. Non-blocking.
func (h *HotControl) Set(level float32) {
	for {
		old := h.packed.Load()
		gen := old >> 32
		next := (gen+1)<<32 | uint64(math.Float32bits(clamp01(level)))
		if h.packed.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot returns the current level and generation. Wait-free read.
func (h *HotControl) Snapshot() (level float32, generation uint64) {
	v := h.packed.Load()
	return math.Float32frombits(uint32(v & 0xFFFFFFFF)), v >> 32
}

// Runner is the subset of pipeline.Runner that fade helpers need.
// *pipeline.Runner satisfies this interface structurally; gain does
// not import pipeline, avoiding an import cycle between the two packages.
type Runner interface {
	ApplyTransformControlTo(stageKey string, control any, pctx *stage.PipelineContext) (bool, error)
	PlayableRemainingFramesHint() (frames uint64, ok bool)
}

// ApplyMasterGainLevelToRunner pushes level onto the runner's master-gain
// stage. A runner lacking that stage silently no-ops (handled=false is not
// an error here: not every assembled pipeline carries a gain stage).
func ApplyMasterGainLevelToRunner(r Runner, pctx *stage.PipelineContext, level float32) error {
	_, err := r.ApplyTransformControlTo(MasterGainStageKey, NewMasterGainControl(level), pctx)
	return err
}

// RequestFadeInWithRunner starts a fade from silence (level 0) up to 1.0
// over durationMs, used by Play() from Paused and by a seek during playback.
func RequestFadeInWithRunner(r Runner, pctx *stage.PipelineContext, cfg TransitionConfig, durationMs uint32) error {
	req := GainTransitionRequest{StartLevel: 0, EndLevel: 1, DurationMs: durationMs, Curve: cfg.Curve}
	_, err := r.ApplyTransformControlTo(TransitionGainStageKey, TransitionGainControl{Request: req}, pctx)
	return err
}

// RequestFadeInFromSilenceWithRunner is used right after a runner rebuild
// when audio must start from silence regardless of prior ramp state.
func RequestFadeInFromSilenceWithRunner(r Runner, pctx *stage.PipelineContext, cfg TransitionConfig, durationMs uint32) error {
	req := GainTransitionRequest{StartLevel: 0, EndLevel: 1, DurationMs: durationMs, Curve: cfg.Curve}
	_, err := r.ApplyTransformControlTo(TransitionGainStageKey, TransitionGainControl{Request: req}, pctx)
	return err
}

// RunInterruptFadeOut submits a fade-out to 0 and blocks until the fade
// completes, per the FadeOutTimePolicy: Exact waits the full targetMs;
// FitToAvailable clamps to the audio actually available (remainingFrames,
// converted via sampleRate) and never waits past
// InterruptMaxExtraWaitMs beyond whichever target was chosen.
func RunInterruptFadeOut(r Runner, pctx *stage.PipelineContext, cfg TransitionConfig, targetMs uint32, sampleRate uint32) error {
	req := GainTransitionRequest{StartLevel: 1, EndLevel: 0, DurationMs: targetMs, Curve: cfg.Curve}
	if _, err := r.ApplyTransformControlTo(TransitionGainStageKey, TransitionGainControl{Request: req}, pctx); err != nil {
		return err
	}

	wait := time.Duration(targetMs) * time.Millisecond
	if cfg.FadeOutTimePolicy == TimePolicyFitToAvailable && sampleRate > 0 {
		if frames, ok := r.PlayableRemainingFramesHint(); ok {
			available := time.Duration(frames) * time.Second / time.Duration(sampleRate)
			if available < wait {
				wait = available
			}
		}
	}

	maxWait := wait + time.Duration(cfg.InterruptMaxExtraWaitMs)*time.Millisecond
	deadline := time.Now().Add(maxWait)
	target := time.Now().Add(wait)

	for time.Now().Before(target) {
		remaining := time.Until(target)
		if remaining <= 0 {
			break
		}
		sleep := transitionFadeWaitPoll
		if remaining < sleep {
			sleep = remaining
		}
		time.Sleep(sleep)
		if time.Now().After(deadline) {
			break
		}
	}
	return nil
}
