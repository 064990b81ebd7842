package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestgen/annex/internal/observability/notify"
)

func TestNewClient_RequiresWebhookURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestFormatMessage_IncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#annex-alerts",
		Username:   "annex-bot",
	})
	require.NoError(t, err)

	msg := client.formatMessage(notify.PipelineFailurePayload{
		JobID:      "job-123",
		UserID:     "user-1",
		Stage:      "completion",
		Service:    "annotator",
		Error:      "persist completed record: connection refused",
		ErrorClass: "net_operror",
		OccurredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "annex-bot", msg["username"])
	assert.Equal(t, "#annex-alerts", msg["channel"])

	text, ok := msg["text"].(string)
	require.True(t, ok)
	for _, want := range []string{
		"Pipeline failure alert", "job-123", "completion", "annotator",
		"user-1", "net_operror", "connection refused", "critical",
		"2025-06-01T12:00:00Z",
	} {
		assert.Contains(t, text, want)
	}
}

func TestSendPipelineFailure_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL})
	require.NoError(t, err)

	err = client.SendPipelineFailure(context.Background(), notify.PipelineFailurePayload{
		JobID: "job-1",
		Stage: "completion",
		Error: "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, "annex", got["username"])
	assert.Contains(t, got["text"], "job-1")
}

func TestSendPipelineFailure_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL})
	require.NoError(t, err)

	err = client.SendPipelineFailure(context.Background(), notify.PipelineFailurePayload{JobID: "x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"))
}
