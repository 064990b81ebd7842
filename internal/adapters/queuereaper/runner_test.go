package queuereaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/data"
)

type fakeReaper struct {
	mu       sync.Mutex
	expired  map[string]int
	swept    []string
	sweepErr error
}

func (f *fakeReaper) RequeueExpired(_ context.Context, queue string, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sweepErr != nil {
		return 0, f.sweepErr
	}
	f.swept = append(f.swept, queue)
	n := f.expired[queue]
	f.expired[queue] = 0
	return n, nil
}

func (f *fakeReaper) Depth(_ context.Context, _ string) (data.QueueDepth, error) {
	return data.QueueDepth{}, nil
}

func newTestRunner(t *testing.T, queue LeaseReaper) *Runner {
	t.Helper()
	queues := config.QueueConfig{
		SubmissionQueue: "annex_job_requests",
		ArchiveQueue:    "annex_archive",
		RestoreQueue:    "annex_restore",
	}
	r, err := NewRunner(RunnerOptions{
		Queue:  queue,
		Queues: queues,
		Config: config.QueueReaperConfig{Interval: 10 * time.Millisecond, BatchSize: 50},
	})
	require.NoError(t, err)
	return r
}

func TestRunner_SweepOnceCoversAllQueues(t *testing.T) {
	fake := &fakeReaper{expired: map[string]int{
		"annex_job_requests": 2,
		"annex_restore":      1,
	}}
	r := newTestRunner(t, fake)

	total, err := r.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.ElementsMatch(t,
		[]string{"annex_job_requests", "annex_archive", "annex_restore"}, fake.swept)
}

func TestRunner_SweepOnceReportsFirstError(t *testing.T) {
	fake := &fakeReaper{expired: map[string]int{}, sweepErr: assert.AnError}
	r := newTestRunner(t, fake)

	_, err := r.SweepOnce(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	fake := &fakeReaper{expired: map[string]int{"annex_job_requests": 1}}
	r := newTestRunner(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let a couple of ticks fire, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.NotEmpty(t, fake.swept)
}

func TestNewRunner_RequiresQueueSource(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}
