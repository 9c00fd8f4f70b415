package ctlerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandTimedOutErrorMessage(t *testing.T) {
	err := CommandTimedOutError{Command: "seek"}
	require.Contains(t, err.Error(), "seek")
}

func TestWorkerPanickedErrorMessage(t *testing.T) {
	err := WorkerPanickedError{Recovered: "boom"}
	require.Contains(t, err.Error(), "boom")
}

func TestSentinelErrorMessages(t *testing.T) {
	require.NotEmpty(t, QueueFullError{}.Error())
	require.NotEmpty(t, WorkerExitedError{}.Error())
	require.NotEmpty(t, ActorExitedError{}.Error())
	require.NotEmpty(t, WorkerAlreadyInstalledError{}.Error())
	require.NotEmpty(t, WorkerNotInstalledError{}.Error())
	require.NotEmpty(t, ShutdownTimedOutError{}.Error())
}
