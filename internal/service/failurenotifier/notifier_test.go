package failurenotifier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestgen/annex/internal/observability/notify"
)

type captureSink struct {
	mu       sync.Mutex
	payloads []notify.PipelineFailurePayload
	err      error
}

func (c *captureSink) SendPipelineFailure(_ context.Context, payload notify.PipelineFailurePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return c.err
}

func TestService_FansOutToAllSinks(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{}
	svc := NewService(Options{Sinks: []SinkRegistration{
		{Name: "first", Sink: first},
		{Name: "second", Sink: second},
	}})

	svc.NotifyFailure(context.Background(), notify.PipelineFailurePayload{JobID: "job-1"})

	require.Len(t, first.payloads, 1)
	require.Len(t, second.payloads, 1)
	assert.Equal(t, "job-1", first.payloads[0].JobID)
}

func TestService_DefaultsSeverity(t *testing.T) {
	sink := &captureSink{}
	svc := NewService(Options{Sinks: []SinkRegistration{{Sink: sink}}})

	svc.NotifyFailure(context.Background(), notify.PipelineFailurePayload{JobID: "job-1"})

	require.Len(t, sink.payloads, 1)
	assert.Equal(t, notify.SeverityCritical, sink.payloads[0].Severity)
}

func TestService_SinkErrorDoesNotPropagate(t *testing.T) {
	failing := &captureSink{err: assert.AnError}
	healthy := &captureSink{}
	svc := NewService(Options{Sinks: []SinkRegistration{
		{Name: "failing", Sink: failing},
		{Name: "healthy", Sink: healthy},
	}})

	svc.NotifyFailure(context.Background(), notify.PipelineFailurePayload{JobID: "job-1"})
	require.Len(t, healthy.payloads, 1)
}

func TestService_SkipsNilSinks(t *testing.T) {
	svc := NewService(Options{Sinks: []SinkRegistration{{Name: "nil", Sink: nil}}})
	assert.False(t, svc.Enabled())
	svc.NotifyFailure(context.Background(), notify.PipelineFailurePayload{})
}
