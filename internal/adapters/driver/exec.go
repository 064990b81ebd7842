// Package driver dispatches the external annotator executable for claimed
// jobs and feeds its results back into the completion handler.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/domain/model"
	"github.com/crestgen/annex/internal/observability/statsd"
)

// Stderr and stdout of a failed run are logged truncated to this size.
const maxCapturedOutput = 2 * 1024

// CompletionHandler receives the execution result once the annotator exits
// successfully.
type CompletionHandler interface {
	HandleResult(ctx context.Context, result model.ExecutionResult) error
}

// Options configures an ExecDriver.
type Options struct {
	Config  config.AnnotatorConfig
	Handler CompletionHandler // Required: completion persistence
	Logger  *slog.Logger      // Optional: structured logger
	Metrics statsd.Sink       // Optional: metrics sink
}

// ExecDriver runs the annotator command in a detached goroutine per job. The
// dispatching consumer acknowledges its queue message as soon as Start
// returns; execution failure is reported here, never back to the consumer.
type ExecDriver struct {
	command string
	timeout time.Duration
	handler CompletionHandler
	logger  *slog.Logger
	metrics statsd.Sink

	wg sync.WaitGroup
}

// NewExecDriver constructs an ExecDriver.
func NewExecDriver(opts Options) (*ExecDriver, error) {
	if opts.Handler == nil {
		return nil, errors.New("CompletionHandler is required")
	}
	if strings.TrimSpace(opts.Config.DriverCommand) == "" {
		return nil, errors.New("driver command is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecDriver{
		command: opts.Config.DriverCommand,
		timeout: opts.Config.DriverTimeout,
		handler: opts.Handler,
		logger:  logger.With("component", "exec_driver"),
		metrics: opts.Metrics,
	}, nil
}

// Start validates the task and launches the annotator. The spawned run
// outlives the caller's message-handling context; only the driver timeout
// bounds it.
func (d *ExecDriver) Start(ctx context.Context, task model.ExecutionTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid execution task: %w", err)
	}
	if _, err := os.Stat(task.InputPath); err != nil {
		return fmt.Errorf("staged input for job %s: %w", task.JobID, err)
	}

	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx), task)

	d.logger.InfoContext(ctx, "annotator launched", "job_id", task.JobID, "input", task.InputPath)
	return nil
}

// Wait blocks until every in-flight execution has finished. Called during
// graceful shutdown after the submission consumers have stopped.
func (d *ExecDriver) Wait() {
	d.wg.Wait()
}

func (d *ExecDriver) run(ctx context.Context, task model.ExecutionTask) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(ctx, d.command, task.InputPath)
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(started)

	d.emit(elapsed, err)
	if err != nil {
		d.logger.ErrorContext(ctx, "annotator run failed",
			"job_id", task.JobID, "duration", elapsed, "error", err,
			"output", truncate(out))
		return
	}

	result := resultFor(task)
	if err := d.handler.HandleResult(ctx, result); err != nil {
		d.logger.ErrorContext(ctx, "completion handling failed",
			"job_id", task.JobID, "error", err)
		return
	}
	d.logger.InfoContext(ctx, "annotator run completed", "job_id", task.JobID, "duration", elapsed)
}

// resultFor derives the artifact paths the annotator writes beside its input:
// sample.vcf produces sample.annot.vcf and sample.vcf.count.log.
func resultFor(task model.ExecutionTask) model.ExecutionResult {
	ext := filepath.Ext(task.InputPath)
	base := strings.TrimSuffix(task.InputPath, ext)
	return model.ExecutionResult{
		JobID:      task.JobID,
		UserID:     task.UserID,
		UserEmail:  task.UserEmail,
		InputPath:  task.InputPath,
		ResultPath: base + ".annot" + ext,
		LogPath:    task.InputPath + ".count.log",
	}
}

func (d *ExecDriver) emit(elapsed time.Duration, err error) {
	if d.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	tags := map[string]string{"result": result}
	d.metrics.Count("annotator.execution", 1, tags)
	d.metrics.Timing("annotator.execution_duration", elapsed, tags)
}

func truncate(out []byte) string {
	if len(out) > maxCapturedOutput {
		out = out[:maxCapturedOutput]
	}
	return string(out)
}
