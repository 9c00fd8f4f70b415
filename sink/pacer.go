package sink

import (
	"time"

	"golang.org/x/time/rate"
)

// retryPacer paces the writer goroutine's back-pressure retry loop (spec
// §4.3: "if write accepts 0 frames, sleep for a short retry interval").
// Adapted from picast's util/bpipes.ThrottlerStage, which wraps a
// golang.org/x/time/rate.Limiter to pace a pipeline stage's effect; here
// the limiter paces write retries instead of a channel stage, using
// Reserve/Delay so the wait can still be interrupted by stopWriter without
// spawning a goroutine per retry.
type retryPacer struct {
	limiter *rate.Limiter
}

func newRetryPacer(interval time.Duration) *retryPacer {
	return &retryPacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// wait blocks until the next retry is due or stop fires first, returning
// true iff stop fired.
func (p *retryPacer) wait(stop <-chan struct{}) (stopped bool) {
	r := p.limiter.Reserve()
	if !r.OK() {
		return false
	}
	d := r.Delay()
	if d <= 0 {
		return false
	}

	select {
	case <-stop:
		r.Cancel()
		return true
	case <-time.After(d):
		return false
	}
}
