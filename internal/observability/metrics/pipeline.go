// Package metrics standardises the pipeline lifecycle metrics emitted by the
// worker services.
package metrics

import (
	"time"

	obserrors "github.com/crestgen/annex/internal/observability/errors"
	"github.com/crestgen/annex/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Stage constants, one per pipeline consumer.
const (
	StageSubmission = "submission"
	StageCompletion = "completion"
	StageArchive    = "archive"
	StageRestore    = "restore"
	StageReap       = "reap"
)

// StageMetric captures one handled unit of pipeline work.
type StageMetric struct {
	Stage    string
	Queue    string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitPipelineStage emits the standard counter and timing for one handled
// message or sweep.
func EmitPipelineStage(sink statsd.Sink, in StageMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"stage":  in.Stage,
		"result": in.Result,
	}
	if in.Queue != "" {
		tags["queue"] = in.Queue
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("pipeline.stage", 1, tags)
	if in.Duration > 0 {
		sink.Timing("pipeline.duration", in.Duration, tags)
	}
}

// EmitQueueDepth reports the pending and in-flight sizes of one queue.
func EmitQueueDepth(sink statsd.Sink, queue string, pending, inflight int64) {
	if sink == nil {
		return
	}
	sink.Gauge("queue.depth.pending", float64(pending), map[string]string{"queue": queue})
	sink.Gauge("queue.depth.inflight", float64(inflight), map[string]string{"queue": queue})
}
