package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestgen/annex/internal/testutil"
)

type testPayload struct {
	JobID string `json:"job_id"`
	Note  string `json:"note,omitempty"`
}

func newTestQueue(t *testing.T) (*RedisQueue, *FixedTimeProvider) {
	t.Helper()
	client := testutil.SetupTestRedis(t)
	tp := NewFixedTimeProvider(testutil.TestTime())
	return NewRedisQueue(client, RepoConfig{TimeProvider: tp}), tp
}

func TestRedisQueue_SendReceiveDelete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "job-1"}))

	msg, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.Receipt)

	var got testPayload
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "job-1", got.JobID)

	require.NoError(t, q.Delete(ctx, "work", msg.Receipt))

	depth, err := q.Depth(ctx, "work")
	require.NoError(t, err)
	assert.Zero(t, depth.Pending)
	assert.Zero(t, depth.Inflight)
}

func TestRedisQueue_EmptyReceiveIsNil(t *testing.T) {
	q, _ := newTestQueue(t)

	msg, err := q.Receive(context.Background(), "empty", 50*time.Millisecond, 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestRedisQueue_ReceiveIsFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "first"}))
	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "second"}))

	for _, want := range []string{"first", "second"} {
		msg, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)

		var got testPayload
		require.NoError(t, json.Unmarshal(msg.Body, &got))
		assert.Equal(t, want, got.JobID)
	}
}

func TestRedisQueue_InflightMessageIsInvisible(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "job-1"}))

	first, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Receive(ctx, "work", 50*time.Millisecond, 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, second, "claimed message must stay invisible while leased")
}

func TestRedisQueue_RequeueExpiredRedelivers(t *testing.T) {
	q, tp := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "job-1"}))

	first, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	tp.Advance(31 * time.Second)

	n, err := q.RequeueExpired(ctx, "work", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID, "redelivery carries the same message id")
}

func TestRedisQueue_RequeueExpired_KeepsLiveLeases(t *testing.T) {
	q, tp := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "job-1"}))

	msg, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	tp.Advance(10 * time.Second)

	n, err := q.RequeueExpired(ctx, "work", 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	depth, err := q.Depth(ctx, "work")
	require.NoError(t, err)
	assert.Zero(t, depth.Pending)
	assert.Equal(t, int64(1), depth.Inflight)
}

func TestRedisQueue_DeleteAfterRequeueIsNoop(t *testing.T) {
	q, tp := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "work", testPayload{JobID: "job-1"}))
	msg, err := q.Receive(ctx, "work", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	tp.Advance(31 * time.Second)
	_, err = q.RequeueExpired(ctx, "work", 100)
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, "work", msg.Receipt))

	depth, err := q.Depth(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth.Pending, "requeued message survives the late delete")
}

func TestRedisCapacityGate_Admit(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	tp := NewFixedTimeProvider(testutil.TestTime())
	gate := NewRedisCapacityGate(client, RepoConfig{TimeProvider: tp})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := gate.Admit(ctx, "expedited", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "admission %d should fit under the limit", i)
	}

	ok, err := gate.Admit(ctx, "expedited", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "fourth admission in the window must be rejected")

	// A fresh window admits again.
	tp.Advance(time.Minute)
	ok, err = gate.Admit(ctx, "expedited", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCacheRepo_RoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisCacheRepo(client)
	ctx := context.Background()

	missing, err := cache.Get(ctx, "profile:nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, cache.Set(ctx, "profile:user-1", []byte(`{"tier":"free_user"}`), time.Minute))

	got, err := cache.Get(ctx, "profile:user-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"free_user"}`, string(got))

	deleted, err := cache.Delete(ctx, "profile:user-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = cache.Delete(ctx, "profile:user-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}
