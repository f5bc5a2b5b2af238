// Package reconciler consumes result messages and applies them to the record
// store. It is the only writer of terminal job state, so all idempotence and
// conflict decisions concentrate here.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
	"github.com/imagemill/imagemill/internal/observability/metrics"
)

// Options configure a reconciler Runner.
type Options struct {
	// ResultQueue delivers result messages.
	ResultQueue core.Queue
	Repo        core.JobRepository
	Notifier    core.WebhookSender
	// Concurrency is the number of consumer goroutines; defaults to 1.
	Concurrency int
	// OrphanRetryDelay is the single bounded backoff before re-checking a
	// result that matched no record; defaults to 500ms.
	OrphanRetryDelay time.Duration
	// NotifyMaxAttempts caps notification attempts per terminal record;
	// defaults to 5.
	NotifyMaxAttempts int
	// NotifyBackoff is the base of the exponential notification backoff;
	// defaults to 1s.
	NotifyBackoff time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Pipeline
	// Sleep overrides time.Sleep-style waiting, for tests.
	Sleep func(ctx context.Context, d time.Duration)
}

func (o *Options) sanitize() error {
	if o.ResultQueue == nil {
		return errors.New("result queue is required")
	}
	if o.Repo == nil {
		return errors.New("job repository is required")
	}
	if o.Notifier == nil {
		return errors.New("webhook sender is required")
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.OrphanRetryDelay <= 0 {
		o.OrphanRetryDelay = 500 * time.Millisecond
	}
	if o.NotifyMaxAttempts <= 0 {
		o.NotifyMaxAttempts = 5
	}
	if o.NotifyBackoff <= 0 {
		o.NotifyBackoff = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Runner consumes the result queue and reconciles job state.
type Runner struct {
	opts    Options
	notifWG sync.WaitGroup
}

// NewRunner creates a reconciler Runner.
func NewRunner(opts Options) (*Runner, error) {
	if err := opts.sanitize(); err != nil {
		return nil, err
	}
	return &Runner{opts: opts}, nil
}

// Run consumes the result queue until the context is cancelled, then waits
// for in-flight notification attempts to finish.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Concurrency; i++ {
		g.Go(func() error {
			return r.opts.ResultQueue.Consume(gctx, r.handle)
		})
	}
	err := g.Wait()
	r.notifWG.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle applies one result delivery. The message is acked only after the
// store write has succeeded (or the message is classified as discardable);
// store unavailability returns an error so the delivery is retried.
func (r *Runner) handle(ctx context.Context, d core.Delivery) error {
	var res model.ResultMessage
	if err := json.Unmarshal(d.Body, &res); err != nil {
		r.opts.Logger.ErrorContext(ctx, "dropping undecodable result message",
			"delivery_id", d.ID, "error", err)
		return r.opts.ResultQueue.Ack(ctx, d.ID)
	}
	if err := res.Validate(); err != nil {
		r.opts.Logger.ErrorContext(ctx, "dropping invalid result message",
			"delivery_id", d.ID, "job_id", res.ID, "error", err)
		return r.opts.ResultQueue.Ack(ctx, d.ID)
	}

	if res.Status == model.JobStatusProcessing {
		return r.handleProcessing(ctx, d, &res)
	}
	return r.handleTerminal(ctx, d, &res)
}

// handleProcessing applies the optional non-terminal transition. A record
// that already left queued keeps its state; the signal is simply stale.
func (r *Runner) handleProcessing(ctx context.Context, d core.Delivery, res *model.ResultMessage) error {
	moved, err := r.opts.Repo.MarkProcessing(ctx, res.ID)
	if err != nil {
		if imerrors.IsNotFound(err) {
			r.opts.Logger.WarnContext(ctx, "processing signal for unknown job discarded", "job_id", res.ID)
			return r.opts.ResultQueue.Ack(ctx, d.ID)
		}
		return err
	}
	if !moved {
		r.opts.Logger.DebugContext(ctx, "stale processing signal ignored", "job_id", res.ID)
	}
	return r.opts.ResultQueue.Ack(ctx, d.ID)
}

func (r *Runner) handleTerminal(ctx context.Context, d core.Delivery, res *model.ResultMessage) error {
	outcome, err := r.applyWithOrphanRetry(ctx, res)
	if err != nil {
		switch {
		case imerrors.IsOrphanResult(err):
			// After the bounded re-check the message is discarded with an
			// explicit error signal. No placeholder record is created.
			r.opts.Logger.ErrorContext(ctx, "orphan result discarded",
				"job_id", res.ID, "status", res.Status, "error", err)
			r.opts.Metrics.OrphanResult()
			return r.opts.ResultQueue.Ack(ctx, d.ID)
		case imerrors.IsConsistency(err):
			// Conflicting terminal result: the stored state wins.
			r.opts.Logger.ErrorContext(ctx, "conflicting terminal result rejected",
				"job_id", res.ID, "status", res.Status, "error", err)
			r.opts.Metrics.ConflictResult()
			return r.opts.ResultQueue.Ack(ctx, d.ID)
		default:
			return err
		}
	}

	switch outcome {
	case core.ApplyApplied:
		r.opts.Logger.InfoContext(ctx, "terminal transition applied",
			"job_id", res.ID, "status", res.Status, "attempt", res.Attempt)
		r.opts.Metrics.TransitionApplied(res.Status)
		if err := r.opts.ResultQueue.Ack(ctx, d.ID); err != nil {
			return err
		}
		r.startNotification(ctx, res.ID)
		return nil
	case core.ApplyDuplicate:
		r.opts.Logger.InfoContext(ctx, "duplicate result ignored",
			"job_id", res.ID, "status", res.Status)
		r.opts.Metrics.DuplicateResult()
		return r.opts.ResultQueue.Ack(ctx, d.ID)
	default:
		return imerrors.Internal("unexpected apply outcome")
	}
}

// applyWithOrphanRetry retries a not-found apply once after a short delay to
// cover submitter races, then classifies the message as an orphan.
func (r *Runner) applyWithOrphanRetry(ctx context.Context, res *model.ResultMessage) (core.ApplyOutcome, error) {
	outcome, err := r.opts.Repo.ApplyTerminal(ctx, res)
	if err == nil || !imerrors.IsNotFound(err) {
		return outcome, err
	}

	r.opts.Sleep(ctx, r.opts.OrphanRetryDelay)
	outcome, err = r.opts.Repo.ApplyTerminal(ctx, res)
	if err != nil && imerrors.IsNotFound(err) {
		return outcome, imerrors.OrphanResultf("no job record for result %s after retry", res.ID)
	}
	return outcome, err
}

// startNotification delivers the terminal summary asynchronously with
// exponential backoff. Notification failures never affect the committed
// transition; the notified flag flips only after a successful delivery.
func (r *Runner) startNotification(ctx context.Context, jobID string) {
	r.notifWG.Add(1)
	go func() {
		defer r.notifWG.Done()
		r.notify(context.WithoutCancel(ctx), jobID)
	}()
}

func (r *Runner) notify(ctx context.Context, jobID string) {
	job, err := r.opts.Repo.GetByID(ctx, jobID)
	if err != nil {
		r.opts.Logger.ErrorContext(ctx, "notification skipped, record unreadable",
			"job_id", jobID, "error", err)
		return
	}
	if job.Notified || job.NotifyTarget == "" {
		return
	}

	summary := core.TerminalSummary{
		JobID:  job.ID,
		Type:   job.Type,
		Status: job.Status,
	}
	if job.OutputReference != nil {
		summary.OutputReference = *job.OutputReference
	}
	if job.FailureReason != nil {
		summary.FailureReason = *job.FailureReason
	}

	backoff := r.opts.NotifyBackoff
	for attempt := 1; attempt <= r.opts.NotifyMaxAttempts; attempt++ {
		err := r.opts.Notifier.Send(ctx, job.NotifyTarget, summary)
		if err == nil {
			if _, err := r.opts.Repo.MarkNotified(ctx, jobID); err != nil {
				r.opts.Logger.ErrorContext(ctx, "notified flag not persisted",
					"job_id", jobID, "error", err)
			}
			r.opts.Metrics.NotificationResult(true)
			return
		}
		r.opts.Logger.WarnContext(ctx, "notification attempt failed",
			"job_id", jobID, "attempt", attempt, "error", err)
		if attempt < r.opts.NotifyMaxAttempts {
			r.opts.Sleep(ctx, backoff)
			backoff *= 2
		}
	}

	r.opts.Logger.ErrorContext(ctx, "notification abandoned after max attempts",
		"job_id", jobID, "attempts", r.opts.NotifyMaxAttempts)
	r.opts.Metrics.NotificationResult(false)
}
