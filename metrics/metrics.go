// Package metrics defines an optional engine-observability collaborator.
// The core never depends on it directly; callers that want Prometheus
// export wire a *PrometheusSink into whichever component accepts a
// MetricsSink (sink.Session callers, the decode worker's recovery path).
package metrics

// Sink receives point-in-time observations from the engine. Every method
// must return promptly: implementations are called from hot paths (sink
// writer goroutine, decode worker loop) and must never block on I/O.
type Sink interface {
	// ObserveQueueDepth reports the sink session's current queue length.
	ObserveQueueDepth(depth int)
	// ObserveRecoveryAttempt reports a sink-recovery attempt number.
	ObserveRecoveryAttempt(attempt uint32)
	// ObservePositionLagMs reports the gap between the last position the
	// engine reported and wall-clock-derived expected position, a proxy
	// for decode-thread starvation.
	ObservePositionLagMs(lagMs int64)
}

// NoopSink discards every observation; used when no MetricsSink is wired.
type NoopSink struct{}

func (NoopSink) ObserveQueueDepth(int)        {}
func (NoopSink) ObserveRecoveryAttempt(uint32) {}
func (NoopSink) ObservePositionLagMs(int64)   {}
