// Package notify delivers terminal job summaries to external webhook targets.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/imagemill/imagemill/internal/core"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

// WebhookOptions configure a WebhookClient.
type WebhookOptions struct {
	// Timeout bounds a single POST; defaults to 10s.
	Timeout time.Duration
	Logger  *slog.Logger
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// WebhookClient POSTs the terminal summary as JSON to the job's notify
// target. One Send is one attempt; retry policy belongs to the caller.
type WebhookClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewWebhookClient creates a WebhookClient.
func NewWebhookClient(opts WebhookOptions) *WebhookClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &WebhookClient{client: client, logger: opts.Logger}
}

// Send delivers one notification attempt. Any non-2xx response is an error.
func (c *WebhookClient) Send(ctx context.Context, target string, summary core.TerminalSummary) error {
	if _, err := url.ParseRequestURI(target); err != nil {
		return imerrors.Wrapf(err, imerrors.ErrCodeNotification, "invalid webhook target %q", target)
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return imerrors.Wrap(err, imerrors.ErrCodeNotification, "encode notification payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return imerrors.Wrap(err, imerrors.ErrCodeNotification, "build notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return imerrors.Wrapf(err, imerrors.ErrCodeNotification, "post notification for job %s", summary.JobID)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return imerrors.Wrapf(
			errors.New(resp.Status), imerrors.ErrCodeNotification,
			"webhook target returned %d for job %s", resp.StatusCode, summary.JobID)
	}

	c.logger.InfoContext(ctx, "notification delivered",
		"job_id", summary.JobID, "status", summary.Status)
	return nil
}

var _ core.WebhookSender = (*WebhookClient)(nil)
