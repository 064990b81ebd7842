package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/domain/model"
)

func testQueueConfig() config.QueueConfig {
	cfg := config.QueueConfig{
		SubmissionQueue: "annex_job_requests",
		ArchiveQueue:    "annex_archive",
		RestoreQueue:    "annex_restore",
		CompletionTopic: "annex:job_results",
	}
	cfg.Sanitize()
	return cfg
}

func testStorageConfig(t *testing.T) config.StorageConfig {
	t.Helper()
	cfg := config.StorageConfig{
		RootDir:       t.TempDir(),
		StagingDir:    t.TempDir(),
		InputsBucket:  "annex-inputs",
		ResultsBucket: "annex-results",
		KeyPrefix:     "annex/",
		PresignSecret: "test-secret",
	}
	cfg.Sanitize()
	return cfg
}

type submissionEnv struct {
	svc    *SubmissionService
	repo   *fakeRepo
	queue  *fakeQueue
	store  *fakeStore
	driver *fakeDriver
	cfg    config.StorageConfig
}

func newSubmissionEnv(t *testing.T, jobs ...*model.Job) *submissionEnv {
	t.Helper()
	env := &submissionEnv{
		repo:   newFakeRepo(jobs...),
		queue:  newFakeQueue(),
		store:  newFakeStore(),
		driver: &fakeDriver{},
		cfg:    testStorageConfig(t),
	}
	svc, err := NewSubmissionService(SubmissionServiceOptions{
		Repo:    env.repo,
		Queue:   env.queue,
		Store:   env.store,
		Driver:  env.driver,
		Queues:  testQueueConfig(),
		Storage: env.cfg,
	})
	require.NoError(t, err)
	env.svc = svc
	return env
}

func pendingJob(id, userID string) *model.Job {
	return &model.Job{
		ID:            id,
		UserID:        userID,
		UserEmail:     userID + "@example.com",
		InputFileName: "sample.vcf",
		InputsBucket:  "annex-inputs",
		ResultsBucket: "annex-results",
		InputKey:      "annex/" + userID + "/" + id + "~sample.vcf",
		Status:        model.JobStatusPending,
	}
}

func submissionFor(job *model.Job) model.SubmissionMessage {
	return model.SubmissionMessage{
		JobID:         job.ID,
		UserID:        job.UserID,
		UserEmail:     job.UserEmail,
		InputsBucket:  job.InputsBucket,
		InputKey:      job.InputKey,
		InputFileName: job.InputFileName,
	}
}

func TestSubmissionService_DispatchesClaimedJob(t *testing.T) {
	job := pendingJob("job-1", "user-1")
	env := newSubmissionEnv(t, job)
	env.store.put("annex-inputs", job.InputKey, []byte("chr1\t100\tA\tT"))
	env.queue.push("annex_job_requests", submissionFor(job))

	received, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, received)

	// Claimed and dispatched exactly once, then acknowledged.
	got, err := env.repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)

	require.Len(t, env.driver.tasks, 1)
	task := env.driver.tasks[0]
	assert.Equal(t, "job-1", task.JobID)
	assert.Equal(t, filepath.Join(env.cfg.StagingDir, "job-1", "sample.vcf"), task.InputPath)

	staged, err := os.ReadFile(task.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "chr1\t100\tA\tT", string(staged))

	assert.Equal(t, 1, env.queue.deletedCount("annex_job_requests"))
}

func TestSubmissionService_EmptyQueue(t *testing.T) {
	env := newSubmissionEnv(t)

	received, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, received)
}

func TestSubmissionService_MalformedMessageLeftForRedelivery(t *testing.T) {
	env := newSubmissionEnv(t)
	env.queue.push("annex_job_requests", "{not json")

	received, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, received)

	assert.Empty(t, env.driver.tasks)
	assert.Zero(t, env.queue.deletedCount("annex_job_requests"))
}

func TestSubmissionService_IncompleteMessageLeftForRedelivery(t *testing.T) {
	env := newSubmissionEnv(t)
	env.queue.push("annex_job_requests", model.SubmissionMessage{JobID: "job-1"})

	_, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Empty(t, env.driver.tasks)
	assert.Zero(t, env.queue.deletedCount("annex_job_requests"))
}

func TestSubmissionService_DuplicateDeliveryAcknowledgedWithoutDispatch(t *testing.T) {
	job := pendingJob("job-1", "user-1")
	job.Status = model.JobStatusRunning
	env := newSubmissionEnv(t, job)
	env.store.put("annex-inputs", job.InputKey, []byte("data"))
	env.queue.push("annex_job_requests", submissionFor(job))

	received, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, received)

	assert.Empty(t, env.driver.tasks, "duplicate must not dispatch a second execution")
	assert.Equal(t, 1, env.queue.deletedCount("annex_job_requests"))

	// Staged copy is cleaned up again.
	_, statErr := os.Stat(filepath.Join(env.cfg.StagingDir, "job-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSubmissionService_MissingInputLeftForRedelivery(t *testing.T) {
	job := pendingJob("job-1", "user-1")
	env := newSubmissionEnv(t, job)
	env.queue.push("annex_job_requests", submissionFor(job))

	_, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)

	got, err := env.repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status, "claim must not happen without a staged input")
	assert.Empty(t, env.driver.tasks)
	assert.Zero(t, env.queue.deletedCount("annex_job_requests"))
}

func TestSubmissionService_DriverFailureLeavesMessage(t *testing.T) {
	job := pendingJob("job-1", "user-1")
	env := newSubmissionEnv(t, job)
	env.store.put("annex-inputs", job.InputKey, []byte("data"))
	env.driver.err = assert.AnError
	env.queue.push("annex_job_requests", submissionFor(job))

	_, err := env.svc.ProcessNext(context.Background())
	require.NoError(t, err)

	// The claim stands; redelivery will fail its claim and acknowledge.
	got, err := env.repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	assert.Zero(t, env.queue.deletedCount("annex_job_requests"))
}
