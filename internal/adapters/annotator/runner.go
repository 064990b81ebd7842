// Package annotator provides the adapter that runs the submission consumer:
// it claims queued jobs, dispatches the annotator executable, and persists
// completions.
package annotator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/adapters/driver"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/data"
	"github.com/crestgen/annex/internal/observability/statsd"
	"github.com/crestgen/annex/internal/service"
	"github.com/crestgen/annex/internal/service/failurenotifier"
	"github.com/crestgen/annex/internal/storage"
)

// Backoff between polls after a receive error, to avoid hammering a broken
// queue connection.
const errorBackoff = time.Second

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Queues   config.QueueConfig
	Storage  config.StorageConfig
	Config   config.AnnotatorConfig
	Profiles core.ProfileDirectory // Required: tier lookup for archive routing
	Notifier *failurenotifier.Service
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Optional dependency injections for testing/decoupling
	Repo      core.JobRepository
	Queue     core.Queue
	Store     core.ObjectStore
	Publisher core.CompletionPublisher
	Driver    core.ExecutionDriver
}

// Runner polls the submission queue with a pool of workers and drains
// in-flight annotator executions on shutdown.
type Runner struct {
	submissions *service.SubmissionService
	execDriver  *driver.ExecDriver // nil when an external driver was injected
	workers     int
	logger      *slog.Logger
}

// NewRunner wires the submission consumer with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	deps, err := wireRunnerDependencies(opts)
	if err != nil {
		return nil, err
	}

	submissions, err := service.NewSubmissionService(service.SubmissionServiceOptions{
		Repo:    deps.repo,
		Queue:   deps.queue,
		Store:   deps.store,
		Driver:  deps.driver,
		Queues:  opts.Queues,
		Storage: opts.Storage,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire submission service: %w", err)
	}

	return &Runner{
		submissions: submissions,
		execDriver:  deps.execDriver,
		workers:     opts.Config.Concurrency,
		logger:      opts.Logger.With("component", "annotator_runner"),
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("either DB or Repo must be provided")
	}
	if opts.Redis == nil && opts.Queue == nil {
		return errors.New("either Redis or Queue must be provided")
	}
	if opts.Profiles == nil {
		return errors.New("ProfileDirectory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.Concurrency <= 0 {
		opts.Config.Concurrency = 1
	}
	return nil
}

type runnerDeps struct {
	repo       core.JobRepository
	queue      core.Queue
	store      core.ObjectStore
	driver     core.ExecutionDriver
	execDriver *driver.ExecDriver
}

// wireRunnerDependencies builds the repo, queue, store, completion service,
// and execution driver from the options, honouring injected overrides.
func wireRunnerDependencies(opts RunnerOptions) (runnerDeps, error) {
	deps := runnerDeps{
		repo:  opts.Repo,
		queue: opts.Queue,
		store: opts.Store,
	}

	if deps.repo == nil {
		deps.repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	if deps.queue == nil {
		deps.queue = data.NewRedisQueue(opts.Redis, data.RepoConfig{Logger: opts.Logger})
	}
	if deps.store == nil {
		store, err := storage.NewFSStore(opts.Storage)
		if err != nil {
			return deps, fmt.Errorf("wire object store: %w", err)
		}
		deps.store = store
	}

	if opts.Driver != nil {
		deps.driver = opts.Driver
		return deps, nil
	}

	publisher := opts.Publisher
	if publisher == nil {
		publisher = data.NewRedisTopics(opts.Redis, opts.Queues.CompletionTopic, opts.Logger)
	}

	completions, err := service.NewCompletionService(service.CompletionServiceOptions{
		Repo:      deps.repo,
		Store:     deps.store,
		Queue:     deps.queue,
		Publisher: publisher,
		Profiles:  opts.Profiles,
		Notifier:  opts.Notifier,
		Queues:    opts.Queues,
		Storage:   opts.Storage,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return deps, fmt.Errorf("wire completion service: %w", err)
	}

	execDriver, err := driver.NewExecDriver(driver.Options{
		Config:  opts.Config,
		Handler: completions,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return deps, fmt.Errorf("wire exec driver: %w", err)
	}
	deps.driver = execDriver
	deps.execDriver = execDriver
	return deps, nil
}

// Run polls until the context is cancelled, then waits for in-flight
// annotator executions to finish so their completions are not lost.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting annotator runner", "workers", r.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.pollLoop(ctx)
		})
	}
	err := g.Wait()

	if r.execDriver != nil {
		r.logger.Info("waiting for in-flight annotator executions")
		r.execDriver.Wait()
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) pollLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if _, err := r.submissions.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.ErrorContext(ctx, "submission poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
		}
	}
	return ctx.Err()
}
