// Package worker consumes the work queue and applies transformations. The
// worker never touches the record store; every outcome it reports travels as
// a result message.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
	"github.com/imagemill/imagemill/internal/observability/metrics"
	"github.com/imagemill/imagemill/internal/transform"
)

// Options configure a worker Runner.
type Options struct {
	// WorkQueue delivers work messages.
	WorkQueue core.Queue
	// ResultQueue receives result messages.
	ResultQueue core.Queue
	Store       core.ObjectStore
	Registry    *transform.Registry
	// Concurrency is the number of consumer goroutines; defaults to 1.
	Concurrency int
	// MaxAttempts bounds processing attempts per delivery before a Failed
	// result is reported; defaults to 1 (no internal retry).
	MaxAttempts int
	// EmitProcessing reports a non-terminal processing result on pickup.
	EmitProcessing bool
	Logger         *slog.Logger
	Metrics        *metrics.Pipeline
}

func (o *Options) sanitize() error {
	if o.WorkQueue == nil {
		return errors.New("work queue is required")
	}
	if o.ResultQueue == nil {
		return errors.New("result queue is required")
	}
	if o.Store == nil {
		return errors.New("object store is required")
	}
	if o.Registry == nil {
		return errors.New("transformation registry is required")
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Runner runs a pool of work queue consumers.
type Runner struct {
	opts Options
}

// NewRunner creates a worker Runner.
func NewRunner(opts Options) (*Runner, error) {
	if err := opts.sanitize(); err != nil {
		return nil, err
	}
	return &Runner{opts: opts}, nil
}

// Run consumes the work queue until the context is cancelled. Consumers share
// one consumer group, so each message is handled by one goroutine.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Concurrency; i++ {
		g.Go(func() error {
			return r.opts.WorkQueue.Consume(gctx, r.handle)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle processes one delivery. The result message is enqueued durably
// before the work message is acked; if the result enqueue fails the work
// message stays pending and is redelivered.
func (r *Runner) handle(ctx context.Context, d core.Delivery) error {
	var msg model.WorkMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		r.opts.Logger.ErrorContext(ctx, "dropping undecodable work message",
			"delivery_id", d.ID, "error", err)
		return r.opts.WorkQueue.Ack(ctx, d.ID)
	}
	if err := msg.Validate(); err != nil {
		r.opts.Logger.ErrorContext(ctx, "dropping invalid work message",
			"delivery_id", d.ID, "job_id", msg.ID, "error", err)
		return r.opts.WorkQueue.Ack(ctx, d.ID)
	}

	if r.opts.EmitProcessing {
		r.reportProcessing(ctx, msg.ID)
	}

	result := r.process(ctx, &msg)
	body, err := json.Marshal(result)
	if err != nil {
		return imerrors.Wrapf(err, imerrors.ErrCodeInternal, "encode result for job %s", msg.ID)
	}
	if err := r.opts.ResultQueue.Enqueue(ctx, body); err != nil {
		return imerrors.Wrapf(err, imerrors.ErrCodeInternal, "enqueue result for job %s", msg.ID)
	}
	return r.opts.WorkQueue.Ack(ctx, d.ID)
}

// reportProcessing is best-effort: a lost processing signal only costs the
// intermediate status, never correctness.
func (r *Runner) reportProcessing(ctx context.Context, jobID string) {
	body, err := json.Marshal(model.ResultMessage{ID: jobID, Status: model.JobStatusProcessing})
	if err == nil {
		err = r.opts.ResultQueue.Enqueue(ctx, body)
	}
	if err != nil {
		r.opts.Logger.WarnContext(ctx, "processing signal not enqueued", "job_id", jobID, "error", err)
	}
}

// process runs the transformation with bounded retries and reports the
// outcome. Validation and transformation errors are permanent and fail on
// the first attempt; storage errors are retried up to MaxAttempts.
func (r *Runner) process(ctx context.Context, msg *model.WorkMessage) model.ResultMessage {
	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		ref, err := r.runOnce(ctx, msg)
		if err == nil {
			r.opts.Logger.InfoContext(ctx, "job processed",
				"job_id", msg.ID, "job_type", msg.Type, "attempt", attempt)
			r.opts.Metrics.JobProcessed(msg.Type, time.Since(started), true)
			return model.ResultMessage{
				ID:              msg.ID,
				Status:          model.JobStatusCompleted,
				OutputReference: ref,
				Attempt:         attempt,
			}
		}
		lastErr = err
		if permanent(err) {
			break
		}
		r.opts.Logger.WarnContext(ctx, "job attempt failed",
			"job_id", msg.ID, "attempt", attempt, "error", err)
	}

	r.opts.Logger.ErrorContext(ctx, "job failed",
		"job_id", msg.ID, "job_type", msg.Type, "error", lastErr)
	r.opts.Metrics.JobProcessed(msg.Type, time.Since(started), false)
	return model.ResultMessage{
		ID:          msg.ID,
		Status:      model.JobStatusFailed,
		ErrorReason: lastErr.Error(),
		Attempt:     r.opts.MaxAttempts,
	}
}

// runOnce executes a single transformation attempt. The output key is a pure
// function of the job id, so redeliveries overwrite the same object.
func (r *Runner) runOnce(ctx context.Context, msg *model.WorkMessage) (string, error) {
	params, err := transform.ParseParams(msg.Payload)
	if err != nil {
		return "", err
	}
	transformation, err := r.opts.Registry.Lookup(msg.Type)
	if err != nil {
		return "", err
	}

	input, err := r.opts.Store.Get(ctx, params.InputReference)
	if err != nil {
		return "", fmt.Errorf("fetch input %s: %w", params.InputReference, err)
	}
	output, err := transformation.Apply(ctx, params, input)
	if err != nil {
		return "", err
	}
	ref, err := r.opts.Store.Put(ctx, OutputKey(msg.ID), output)
	if err != nil {
		return "", fmt.Errorf("store output for job %s: %w", msg.ID, err)
	}
	return ref, nil
}

// OutputKey is the deterministic object store key for a job's output.
func OutputKey(jobID string) string {
	return "outputs/" + jobID
}

func permanent(err error) bool {
	return imerrors.IsValidation(err) || imerrors.IsTransformation(err) || imerrors.IsNotFound(err)
}
