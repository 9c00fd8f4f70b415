package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSinkRegistersAndRecordsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, "stellatune")

	s.ObserveQueueDepth(7)
	s.ObserveRecoveryAttempt(3)
	s.ObservePositionLagMs(42)

	require.Equal(t, float64(7), testutil.ToFloat64(s.queueDepth))
	require.Equal(t, float64(3), testutil.ToFloat64(s.recoveryAttempt))
	require.Equal(t, float64(42), testutil.ToFloat64(s.positionLagMs))
}
