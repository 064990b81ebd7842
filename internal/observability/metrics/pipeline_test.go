package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/crestgen/annex/internal/errors"
)

type recordedMetric struct {
	name  string
	kind  string
	value float64
	tags  map[string]string
}

type fakeSink struct {
	metrics []recordedMetric
}

func (s *fakeSink) Count(name string, value int64, tags map[string]string) {
	s.metrics = append(s.metrics, recordedMetric{name, "count", float64(value), tags})
}

func (s *fakeSink) Gauge(name string, value float64, tags map[string]string) {
	s.metrics = append(s.metrics, recordedMetric{name, "gauge", value, tags})
}

func (s *fakeSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.metrics = append(s.metrics, recordedMetric{name, "timing", float64(value), tags})
}

func TestEmitPipelineStage(t *testing.T) {
	sink := &fakeSink{}

	EmitPipelineStage(sink, StageMetric{
		Stage:    StageArchive,
		Queue:    "annex_archive",
		Result:   ResultSuccess,
		Duration: 100 * time.Millisecond,
	})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "pipeline.stage", sink.metrics[0].name)
	assert.Equal(t, "archive", sink.metrics[0].tags["stage"])
	assert.Equal(t, "annex_archive", sink.metrics[0].tags["queue"])
	assert.Equal(t, "pipeline.duration", sink.metrics[1].name)
}

func TestEmitPipelineStage_TagsErrorClass(t *testing.T) {
	sink := &fakeSink{}

	EmitPipelineStage(sink, StageMetric{
		Stage:  StageCompletion,
		Result: ResultError,
		Err:    apperrors.Internal("persist failed"),
	})

	require.Len(t, sink.metrics, 1)
	assert.Equal(t, "errors_apperror", sink.metrics[0].tags["error_class"])
}

func TestEmitQueueDepth(t *testing.T) {
	sink := &fakeSink{}

	EmitQueueDepth(sink, "annex_job_requests", 4, 1)

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "queue.depth.pending", sink.metrics[0].name)
	assert.Equal(t, float64(4), sink.metrics[0].value)
	assert.Equal(t, "queue.depth.inflight", sink.metrics[1].name)
}

func TestEmitPipelineStage_NilSink(t *testing.T) {
	EmitPipelineStage(nil, StageMetric{Stage: StageSubmission, Result: ResultSuccess})
	EmitQueueDepth(nil, "q", 0, 0)
}
