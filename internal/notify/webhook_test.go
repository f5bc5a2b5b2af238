package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

func summary() core.TerminalSummary {
	return core.TerminalSummary{
		JobID:           "job-1",
		Type:            model.JobTypeThumbnail,
		Status:          model.JobStatusCompleted,
		OutputReference: "outputs/job-1",
	}
}

func TestSendPostsTerminalSummary(t *testing.T) {
	var received core.TerminalSummary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewWebhookClient(WebhookOptions{})
	require.NoError(t, client.Send(context.Background(), srv.URL, summary()))
	assert.Equal(t, "job-1", received.JobID)
	assert.Equal(t, model.JobStatusCompleted, received.Status)
	assert.Equal(t, "outputs/job-1", received.OutputReference)
}

func TestSendNon2xxIsNotificationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWebhookClient(WebhookOptions{})
	err := client.Send(context.Background(), srv.URL, summary())
	require.Error(t, err)
	assert.True(t, imerrors.IsNotification(err))
}

func TestSendUnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewWebhookClient(WebhookOptions{})
	err := client.Send(context.Background(), url, summary())
	require.Error(t, err)
	assert.True(t, imerrors.IsNotification(err))
}

func TestSendRejectsInvalidTarget(t *testing.T) {
	client := NewWebhookClient(WebhookOptions{})
	err := client.Send(context.Background(), "not a url", summary())
	require.Error(t, err)
	assert.True(t, imerrors.IsNotification(err))
}
