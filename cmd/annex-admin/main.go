package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/adapters/queuereaper"
	"github.com/crestgen/annex/internal/bootstrap"
	"github.com/crestgen/annex/internal/data"
	"github.com/crestgen/annex/internal/domain/model"
	"github.com/crestgen/annex/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"queue-depth": {
			name:        "queue-depth",
			description: "Show pending and in-flight message counts for the work queues",
			run:         runQueueDepth,
		},
		"reap": {
			name:        "reap",
			description: "Requeue expired in-flight messages once across all queues",
			run:         runReap,
		},
		"show-job": {
			name:        "show-job",
			description: "Print a job record by id",
			run:         runShowJob,
		},
		"list-jobs": {
			name:        "list-jobs",
			description: "List a user's jobs, optionally only the archived ones",
			run:         runListJobs,
		},
		"submit": {
			name:        "submit",
			description: "Upload an input file and enqueue an annotation job",
			run:         runSubmit,
		},
		"presign": {
			name:        "presign",
			description: "Issue a signed retrieval URL for a completed job's result",
			run:         runPresign,
		},
		"restore-request": {
			name:        "restore-request",
			description: "Enqueue a restore covering all of a user's archived results",
			run:         runRestoreRequest,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: annex-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-18s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runQueueDepth(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	redisClient, err := connectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	queue := data.NewRedisQueue(redisClient, data.RepoConfig{Logger: cmdCtx.Logger})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Queue\tPending\tIn-Flight"); err != nil {
		return fmt.Errorf("write depth header: %w", err)
	}
	for _, name := range workQueues(&cmdCtx.Config.Queues) {
		depth, depthErr := queue.Depth(ctx, name)
		if depthErr != nil {
			return fmt.Errorf("queue depth %s: %w", name, depthErr)
		}
		if err := writef(w, "%s\t%d\t%d\n", name, depth.Pending, depth.Inflight); err != nil {
			return fmt.Errorf("write depth row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush depth table: %w", err)
	}
	return nil
}

func runReap(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	redisClient, err := connectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	reaper, err := queuereaper.NewRunner(queuereaper.RunnerOptions{
		Redis:  redisClient,
		Queues: cmdCtx.Config.Queues,
		Config: cmdCtx.Config.QueueReaper,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("wire queue reaper: %w", err)
	}

	requeued, err := reaper.SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep queues: %w", err)
	}

	if err := writef(os.Stdout, "Requeued %d expired messages\n", requeued); err != nil {
		return fmt.Errorf("print reap summary: %w", err)
	}
	return nil
}

type showJobOptions struct {
	JobID   string
	RawJSON bool
}

func parseShowJobFlags(args []string) (showJobOptions, error) {
	fs := flag.NewFlagSet("show-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts showJobOptions
	fs.StringVar(&opts.JobID, "job-id", "", "Job ID to inspect (required)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the raw job record as JSON")

	if err := fs.Parse(args); err != nil {
		return showJobOptions{}, err
	}

	opts.JobID = strings.TrimSpace(opts.JobID)
	if opts.JobID == "" {
		return showJobOptions{}, errors.New("--job-id is required")
	}
	return opts, nil
}

func runShowJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseShowJobFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		job, getErr := jobs.Get(ctx, opts.JobID)
		if getErr != nil {
			return getErr
		}
		if opts.RawJSON {
			return printJobJSON(job)
		}
		return printJob(job)
	})
}

type listJobsOptions struct {
	UserID   string
	Archived bool
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listJobsOptions
	fs.StringVar(&opts.UserID, "user-id", "", "User whose jobs to list (required)")
	fs.BoolVar(&opts.Archived, "archived", false, "Only list jobs whose results are archived")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return listJobsOptions{}, errors.New("--user-id is required")
	}
	return opts, nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		var (
			records []*model.Job
			listErr error
		)
		if opts.Archived {
			records, listErr = jobs.ListArchived(ctx, opts.UserID)
		} else {
			records, listErr = jobs.List(ctx, opts.UserID)
		}
		if listErr != nil {
			return listErr
		}
		return printJobTable(records)
	})
}

type submitOptions struct {
	UserID    string
	UserEmail string
	InputPath string
}

func parseSubmitFlags(args []string) (submitOptions, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts submitOptions
	fs.StringVar(&opts.UserID, "user-id", "", "User submitting the job (required)")
	fs.StringVar(&opts.UserEmail, "email", "", "Email to notify when the job completes")
	fs.StringVar(&opts.InputPath, "file", "", "Path to the input file to upload (required)")

	if err := fs.Parse(args); err != nil {
		return submitOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	opts.InputPath = strings.TrimSpace(opts.InputPath)
	if opts.UserID == "" {
		return submitOptions{}, errors.New("--user-id is required")
	}
	if opts.InputPath == "" {
		return submitOptions{}, errors.New("--file is required")
	}
	return opts, nil
}

func runSubmit(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubmitFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	input, err := os.Open(opts.InputPath)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer func() {
		if closeErr := input.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("input close failed", "error", closeErr)
		}
	}()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		job, submitErr := jobs.Submit(ctx, service.SubmitParams{
			UserID:        opts.UserID,
			UserEmail:     opts.UserEmail,
			InputFileName: filepath.Base(opts.InputPath),
			Input:         input,
		})
		if submitErr != nil {
			return submitErr
		}
		if err := writef(os.Stdout, "Submitted job %s for user %s\n", job.ID, job.UserID); err != nil {
			return fmt.Errorf("print submit summary: %w", err)
		}
		return nil
	})
}

type presignOptions struct {
	JobID string
}

func parsePresignFlags(args []string) (presignOptions, error) {
	fs := flag.NewFlagSet("presign", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts presignOptions
	fs.StringVar(&opts.JobID, "job-id", "", "Completed job whose result to presign (required)")

	if err := fs.Parse(args); err != nil {
		return presignOptions{}, err
	}

	opts.JobID = strings.TrimSpace(opts.JobID)
	if opts.JobID == "" {
		return presignOptions{}, errors.New("--job-id is required")
	}
	return opts, nil
}

func runPresign(cmdCtx *commandContext, args []string) error {
	opts, err := parsePresignFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		url, presignErr := jobs.PresignResult(ctx, opts.JobID)
		if presignErr != nil {
			return presignErr
		}
		if err := writeln(os.Stdout, url); err != nil {
			return fmt.Errorf("print presigned url: %w", err)
		}
		return nil
	})
}

type restoreRequestOptions struct {
	UserID string
}

func parseRestoreRequestFlags(args []string) (restoreRequestOptions, error) {
	fs := flag.NewFlagSet("restore-request", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts restoreRequestOptions
	fs.StringVar(&opts.UserID, "user-id", "", "User whose archived results to restore (required)")

	if err := fs.Parse(args); err != nil {
		return restoreRequestOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return restoreRequestOptions{}, errors.New("--user-id is required")
	}
	return opts, nil
}

func runRestoreRequest(cmdCtx *commandContext, args []string) error {
	opts, err := parseRestoreRequestFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withJobService(cmdCtx, func(jobs *service.JobService) error {
		if restoreErr := jobs.RequestRestore(ctx, opts.UserID); restoreErr != nil {
			return restoreErr
		}
		if err := writef(os.Stdout, "Restore requested for user %s\n", opts.UserID); err != nil {
			return fmt.Errorf("print restore summary: %w", err)
		}
		return nil
	})
}

func printJobJSON(job *model.Job) error {
	encoded, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if writeErr := writef(os.Stdout, "%s\n", encoded); writeErr != nil {
		return fmt.Errorf("print job json: %w", writeErr)
	}
	return nil
}

func printJob(job *model.Job) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Job ID", job.ID},
		{"User", job.UserID},
		{"Input File", job.InputFileName},
		{"Status", string(job.Status)},
		{"Submitted", job.SubmitTime.Format(time.RFC3339)},
		{"Input Key", job.InputKey},
	}
	if job.CompleteTime != nil {
		rows = append(rows, [2]string{"Completed", job.CompleteTime.Format(time.RFC3339)})
	}
	if job.ResultKey != nil {
		rows = append(rows, [2]string{"Result Key", *job.ResultKey})
	}
	if job.LogKey != nil {
		rows = append(rows, [2]string{"Log Key", *job.LogKey})
	}
	if job.ArchiveID != nil {
		rows = append(rows, [2]string{"Archive ID", *job.ArchiveID})
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("write job row %q: %w", row[0], err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return nil
}

func printJobTable(jobs []*model.Job) error {
	if len(jobs) == 0 {
		if err := writeln(os.Stdout, "(no jobs found)"); err != nil {
			return fmt.Errorf("print empty job table: %w", err)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Job ID\tStatus\tInput File\tSubmitted\tArchived"); err != nil {
		return fmt.Errorf("write job table header: %w", err)
	}
	for _, job := range jobs {
		archived := "no"
		if job.Archived() {
			archived = "yes"
		}
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.Status,
			job.InputFileName,
			job.SubmitTime.Format(time.RFC3339),
			archived,
		); err != nil {
			return fmt.Errorf("write job table row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return nil
}

func workQueues(cfg *config.QueueConfig) []string {
	return []string{cfg.SubmissionQueue, cfg.ArchiveQueue, cfg.RestoreQueue}
}
