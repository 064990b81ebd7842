// Package notify defines the failure notification contract and its payloads.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
)

// PipelineFailurePayload is the canonical data emitted when a pipeline stage
// fails in a way that needs operator attention, such as a completed execution
// whose record could not be persisted.
type PipelineFailurePayload struct {
	JobID      string
	UserID     string
	Stage      string
	Service    string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming failure notifications.
type Sink interface {
	SendPipelineFailure(ctx context.Context, payload PipelineFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload PipelineFailurePayload) error

// SendPipelineFailure implements the Sink interface.
func (f SinkFunc) SendPipelineFailure(ctx context.Context, payload PipelineFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
