package metrics

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSink is the optional Prometheus adapter for Sink, grounded on
// the wider example corpus's practice of exposing a small, purpose-built
// collector set rather than routing everything through the default
// registry's global metrics.
type PrometheusSink struct {
	queueDepth      prometheus.Gauge
	recoveryAttempt prometheus.Gauge
	positionLagMs   prometheus.Gauge
}

// NewPrometheusSink registers its collectors on reg and returns the sink.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) *PrometheusSink {
	s := &PrometheusSink{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "queue_depth",
			Help:      "Number of audio blocks currently buffered in the active sink session.",
		}),
		recoveryAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "recovery_attempt",
			Help:      "Most recent sink-recovery attempt number; 0 when not recovering.",
		}),
		positionLagMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "position_lag_ms",
			Help:      "Gap between reported playback position and wall-clock-derived expected position.",
		}),
	}
	reg.MustRegister(s.queueDepth, s.recoveryAttempt, s.positionLagMs)
	return s
}

func (s *PrometheusSink) ObserveQueueDepth(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) ObserveRecoveryAttempt(attempt uint32) {
	s.recoveryAttempt.Set(float64(attempt))
}

func (s *PrometheusSink) ObservePositionLagMs(lagMs int64) {
	s.positionLagMs.Set(float64(lagMs))
}
