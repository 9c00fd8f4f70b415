package sink

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rebeljah/stellatune-audio/stage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSink is a stage.Sink test double whose behavior is driven by the
// accept/status channels below, letting tests script back-pressure and
// fatal-write scenarios deterministically.
type fakeSink struct {
	mu       sync.Mutex
	written  []int
	accept   int32 // 1 = accept every write, 0 = reject (0 frames) every write
	fatal    int32 // 1 = report StatusFatal on next Write
	prepared chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{accept: 1, prepared: make(chan struct{}, 1)}
}

func (f *fakeSink) Prepare(spec stage.StreamSpec, pctx *stage.PipelineContext) error {
	select {
	case f.prepared <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSink) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }

func (f *fakeSink) Write(block *stage.AudioBlock, pctx *stage.PipelineContext) (int, stage.Status) {
	if atomic.LoadInt32(&f.fatal) == 1 {
		return 0, stage.StatusFatal
	}
	if atomic.LoadInt32(&f.accept) == 0 {
		return 0, stage.StatusOK
	}
	f.mu.Lock()
	f.written = append(f.written, block.Frames)
	f.mu.Unlock()
	return block.Frames, stage.StatusOK
}

func (f *fakeSink) Flush(pctx *stage.PipelineContext) error { return nil }
func (f *fakeSink) Stop(pctx *stage.PipelineContext)        {}

func (f *fakeSink) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func testSpec() stage.StreamSpec { return stage.StreamSpec{SampleRate: 44100, Channels: 2} }

func TestSessionEnqueueWritesThroughToSink(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	fs := newFakeSink()
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	accepted := s.Enqueue(block)
	require.Equal(t, 128, accepted)

	require.Eventually(t, func() bool {
		return fs.writtenCount() == 1
	}, time.Second, 2*time.Millisecond)

	s.Shutdown(true)
}

func TestSessionEnsureReusesOpenSinkOnSpecMatch(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	fs := newFakeSink()
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	spec, open := s.NegotiatedSpec()
	require.True(t, open)
	require.Equal(t, testSpec(), spec)

	s.Shutdown(true)
}

func TestSessionEnqueueRejectedWhenClosed(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	require.Equal(t, 0, s.Enqueue(block))
}

func TestSessionDropQueuedEmptiesQueue(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	fs := newFakeSink()
	atomic.StoreInt32(&fs.accept, 0) // writer stalls, queue stays populated
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	s.Enqueue(block)
	s.Enqueue(block)

	require.Eventually(t, func() bool { return s.QueueLen() >= 1 }, time.Second, 2*time.Millisecond)
	s.DropQueued()
	require.Equal(t, 0, s.QueueLen())

	s.Shutdown(true)
}

func TestSessionRecoveryCallbackFiresOnFatalWrite(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	fs := newFakeSink()

	fired := make(chan error, 1)
	s.SetRecoveryCallback(func(err error) {
		select {
		case fired <- err:
		default:
		}
	})
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	atomic.StoreInt32(&fs.fatal, 1)
	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	s.Enqueue(block)

	select {
	case err := <-fired:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("recovery callback did not fire on fatal write")
	}

	require.Eventually(t, func() bool { return !s.IsOpen() }, time.Second, 2*time.Millisecond,
		"session must mark itself closed so a later ImmediateCutover reopens instead of reusing a dead writer")

	s.Shutdown(true)
}

func TestSessionEnsureReopensWriterAfterFatalWrite(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	fs := newFakeSink()
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	atomic.StoreInt32(&fs.fatal, 1)
	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	s.Enqueue(block)

	require.Eventually(t, func() bool { return !s.IsOpen() }, time.Second, 2*time.Millisecond,
		"writer must close the session on a fatal write")

	// ImmediateCutover on the same (rate, channels) must not silently reuse
	// the now-dead session: Ensure must see s.open == false and reopen a
	// fresh writer, or playback stalls forever with nothing draining the
	// queue (the bug this test guards against).
	atomic.StoreInt32(&fs.fatal, 0)
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))
	require.True(t, s.IsOpen())

	s.Enqueue(block)
	require.Eventually(t, func() bool { return fs.writtenCount() >= 1 }, time.Second, 2*time.Millisecond,
		"a fresh writer goroutine must be draining the queue after reopen")

	s.Shutdown(true)
}

func TestSessionRecoveryCallbackFiresOnStalledBackpressure(t *testing.T) {
	s := NewSession(LatencyConfig{TargetLatencyMs: 12, BlockFrames: 128, MinQueueBlocks: 1, MaxQueueBlocks: 20})
	fs := newFakeSink()
	atomic.StoreInt32(&fs.accept, 0)

	fired := make(chan error, 1)
	s.SetRecoveryCallback(func(err error) {
		select {
		case fired <- err:
		default:
		}
	})
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	s.Enqueue(block)

	select {
	case err := <-fired:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recovery callback did not fire after stall deadline")
	}

	require.Eventually(t, func() bool { return !s.IsOpen() }, time.Second, 2*time.Millisecond,
		"session must mark itself closed so a later ImmediateCutover reopens instead of reusing a dead writer")

	s.Shutdown(true)
}

func TestSessionDrainWaitsForQueueToEmpty(t *testing.T) {
	s := NewSession(DefaultLatencyConfig())
	fs := newFakeSink()
	require.NoError(t, s.Ensure(fs, testSpec(), nil, ImmediateCutover))

	block := &stage.AudioBlock{Frames: 128, Spec: testSpec(), Data: make([]float32, 256)}
	s.Enqueue(block)

	require.True(t, s.Drain(time.Second))
	s.Shutdown(true)
}

func TestQueueCapacityClampsToConfiguredRange(t *testing.T) {
	cfg := LatencyConfig{TargetLatencyMs: 12, BlockFrames: 128, MinQueueBlocks: 2, MaxQueueBlocks: 4}
	// A huge sample rate would compute far more than 4 blocks; it must clamp.
	require.Equal(t, 4, cfg.QueueCapacity(10_000_000))
	// A tiny sample rate would compute fewer than 2 blocks; it must clamp up.
	require.Equal(t, 2, cfg.QueueCapacity(1))
}
