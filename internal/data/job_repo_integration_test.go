package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestgen/annex/internal/domain/model"
	apperrors "github.com/crestgen/annex/internal/errors"
	"github.com/crestgen/annex/internal/testutil"
)

func newTestJobRepo(t *testing.T) (*JobRepo, *sql.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repo := NewJobRepo(db, RepoConfig{
		TimeProvider: NewFixedTimeProvider(testutil.TestTime()),
	})
	return repo, db
}

func newPendingJob(userID string) *model.Job {
	id := uuid.NewString()
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

func completeJob(t *testing.T, repo *JobRepo, job *model.Job) *model.Job {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Transition(ctx, job.ID, model.JobStatusPending, model.JobStatusRunning, nil)
	require.NoError(t, err)

	done, err := repo.Transition(ctx, job.ID, model.JobStatusRunning, model.JobStatusCompleted, &model.CompletionFields{
		CompleteTime: testutil.TestTime().Add(time.Minute),
		ResultKey:    "annex/" + job.UserID + "/" + job.ID + "~sample.annot.vcf",
		LogKey:       "annex/" + job.UserID + "/" + job.ID + "~sample.vcf.count.log",
	})
	require.NoError(t, err)
	return done
}

func TestJobRepo_CreateAndGet(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-1")
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.ResultKey)
	assert.Nil(t, got.CompleteTime)
	assert.False(t, got.SubmitTime.IsZero())
}

func TestJobRepo_Create_DuplicateIDConflicts(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-1")
	require.NoError(t, repo.Create(ctx, job))

	dup := newPendingJob("user-1")
	dup.ID = job.ID
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestJobRepo_Get_NotFound(t *testing.T) {
	repo, _ := newTestJobRepo(t)

	_, err := repo.GetByID(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobRepo_Transition_ClaimIsIdempotent(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-1")
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.Transition(ctx, job.ID, model.JobStatusPending, model.JobStatusRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, claimed.Status)

	// A duplicate delivery tries the same claim and must fail the precondition
	// without touching the record.
	_, err = repo.Transition(ctx, job.ID, model.JobStatusPending, model.JobStatusRunning, nil)
	require.ErrorIs(t, err, model.ErrPreconditionFailed)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
}

func TestJobRepo_Transition_CompletedSetsSideFieldsAtomically(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-2")
	require.NoError(t, repo.Create(ctx, job))
	done := completeJob(t, repo, job)

	assert.Equal(t, model.JobStatusCompleted, done.Status)
	require.NotNil(t, done.ResultKey)
	require.NotNil(t, done.LogKey)
	require.NotNil(t, done.CompleteTime)
	assert.Nil(t, done.ArchiveID)
	assert.False(t, done.Archived())
}

func TestJobRepo_Transition_CompletedRequiresCompletionFields(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-2")
	require.NoError(t, repo.Create(ctx, job))
	_, err := repo.Transition(ctx, job.ID, model.JobStatusPending, model.JobStatusRunning, nil)
	require.NoError(t, err)

	_, err = repo.Transition(ctx, job.ID, model.JobStatusRunning, model.JobStatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestJobRepo_Transition_RejectsIllegalEdges(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-3")
	require.NoError(t, repo.Create(ctx, job))

	cases := []struct {
		name string
		from model.JobStatus
		to   model.JobStatus
	}{
		{"skip running", model.JobStatusPending, model.JobStatusCompleted},
		{"backwards", model.JobStatusRunning, model.JobStatusPending},
		{"out of terminal", model.JobStatusCompleted, model.JobStatusRunning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Transition(ctx, job.ID, tc.from, tc.to, nil)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestJobRepo_Transition_MissingJobIsNotFound(t *testing.T) {
	repo, _ := newTestJobRepo(t)

	_, err := repo.Transition(context.Background(), uuid.NewString(),
		model.JobStatusPending, model.JobStatusRunning, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobRepo_MarkArchived(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-4")
	require.NoError(t, repo.Create(ctx, job))
	completeJob(t, repo, job)

	archiveID := uuid.NewString()
	require.NoError(t, repo.MarkArchived(ctx, job.ID, archiveID))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchiveID)
	assert.Equal(t, archiveID, *got.ArchiveID)
	assert.Nil(t, got.ResultKey, "hot key must be cleared in the same write")
	assert.True(t, got.Archived())

	// Second archival attempt (duplicate delivery) finds no hot key left.
	err = repo.MarkArchived(ctx, job.ID, uuid.NewString())
	require.ErrorIs(t, err, model.ErrPreconditionFailed)

	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, archiveID, *got.ArchiveID, "first archive id must survive the duplicate")
}

func TestJobRepo_MarkArchived_PendingJobFailsPrecondition(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	job := newPendingJob("user-4")
	require.NoError(t, repo.Create(ctx, job))

	err := repo.MarkArchived(ctx, job.ID, uuid.NewString())
	require.ErrorIs(t, err, model.ErrPreconditionFailed)
}

func TestJobRepo_ListArchivedByUser(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	const userID = "user-5"

	archived := make(map[string]bool)
	for i := 0; i < 3; i++ {
		job := newPendingJob(userID)
		job.SubmitTime = testutil.TestTime().Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, job))
		completeJob(t, repo, job)
		if i < 2 {
			require.NoError(t, repo.MarkArchived(ctx, job.ID, fmt.Sprintf("arch-%d", i)))
			archived[job.ID] = true
		}
	}

	// Another user's archived job must not appear.
	other := newPendingJob("user-6")
	require.NoError(t, repo.Create(ctx, other))
	completeJob(t, repo, other)
	require.NoError(t, repo.MarkArchived(ctx, other.ID, uuid.NewString()))

	jobs, err := repo.ListArchivedByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.True(t, archived[j.ID])
		assert.True(t, j.Archived())
	}
	// Newest first.
	assert.True(t, jobs[0].SubmitTime.After(jobs[1].SubmitTime))
}

func TestJobRepo_ListByUser(t *testing.T) {
	repo, _ := newTestJobRepo(t)
	ctx := context.Background()

	const userID = "user-7"
	for i := 0; i < 2; i++ {
		job := newPendingJob(userID)
		job.SubmitTime = testutil.TestTime().Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, job))
	}

	jobs, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].SubmitTime.After(jobs[1].SubmitTime))

	none, err := repo.ListByUser(ctx, "user-none")
	require.NoError(t, err)
	assert.Empty(t, none)
}
