// Package pipeerr defines the pipeline-level error taxonomy (spec §7):
// invalid spec, source/decoder unavailable, sink disconnected, not
// prepared, and stage failure. Each kind is a concrete struct type in the
// style of picast's ErrNoSuchID / ErrReadCancelled, supporting errors.As.
package pipeerr

import "fmt"

// InvalidSpecError reports a stream spec that cannot carry audio, or a
// negotiation mismatch between a decoder's output and a sink's capability.
type InvalidSpecError struct {
	SampleRate uint32
	Channels   uint16
}

func (e InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid stream spec: sample_rate=%d channels=%d", e.SampleRate, e.Channels)
}

// SourceUnavailableError reports that a source stage could not prepare.
type SourceUnavailableError struct{}

func (SourceUnavailableError) Error() string { return "source unavailable" }

// DecoderUnavailableError reports that a decoder stage could not prepare.
type DecoderUnavailableError struct{}

func (DecoderUnavailableError) Error() string { return "decoder unavailable" }

// SinkDisconnectedError reports that the sink stage is no longer reachable.
type SinkDisconnectedError struct{}

func (SinkDisconnectedError) Error() string { return "sink disconnected" }

// NotPreparedError reports an operation attempted before prepare succeeded.
type NotPreparedError struct{}

func (NotPreparedError) Error() string { return "pipeline not prepared" }

// StageFailureError wraps an arbitrary stage-reported failure message.
type StageFailureError struct {
	Message string
}

func (e StageFailureError) Error() string { return "stage failure: " + e.Message }
