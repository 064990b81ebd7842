package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusNext(t *testing.T) {
	next, ok := JobStatusPending.Next()
	require.True(t, ok)
	assert.Equal(t, JobStatusRunning, next)

	next, ok = JobStatusRunning.Next()
	require.True(t, ok)
	assert.Equal(t, JobStatusCompleted, next)

	_, ok = JobStatusCompleted.Next()
	assert.False(t, ok, "COMPLETED is terminal")
}

func TestJobStatusValid(t *testing.T) {
	assert.True(t, JobStatusPending.Valid())
	assert.True(t, JobStatusRunning.Valid())
	assert.True(t, JobStatusCompleted.Valid())
	assert.False(t, JobStatus("FAILED").Valid())
	assert.False(t, JobStatus("").Valid())
}

func validJob() *Job {
	return &Job{
		ID:            "a1b2c3",
		UserID:        "user-1",
		UserEmail:     "user@example.com",
		InputFileName: "sample.vcf",
		InputsBucket:  "annex-inputs",
		ResultsBucket: "annex-results",
		InputKey:      "uploads/user-1/sample.vcf",
		Status:        JobStatusPending,
		SubmitTime:    time.Now(),
	}
}

func TestJobValidate(t *testing.T) {
	require.NoError(t, validJob().Validate())

	t.Run("missing job id", func(t *testing.T) {
		j := validJob()
		j.ID = " "
		assert.Error(t, j.Validate())
	})

	t.Run("missing input key", func(t *testing.T) {
		j := validJob()
		j.InputKey = ""
		assert.Error(t, j.Validate())
	})

	t.Run("bad status", func(t *testing.T) {
		j := validJob()
		j.Status = "QUEUED"
		assert.Error(t, j.Validate())
	})
}

func TestJobArchived(t *testing.T) {
	j := validJob()
	assert.False(t, j.Archived())

	key := "results/user-1/sample.annot.vcf"
	j.ResultKey = &key
	assert.False(t, j.Archived(), "hot jobs are not archived")

	archiveID := "arch-123"
	j.ResultKey = nil
	j.ArchiveID = &archiveID
	assert.True(t, j.Archived())
}

func TestCompletionFieldsValidate(t *testing.T) {
	f := CompletionFields{
		CompleteTime: time.Now(),
		ResultKey:    "results/user-1/sample.annot.vcf",
		LogKey:       "results/user-1/sample.vcf.count.log",
	}
	require.NoError(t, f.Validate())

	f.LogKey = ""
	assert.Error(t, f.Validate())
}
