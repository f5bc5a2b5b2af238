// Package service implements the submission and status query use cases on top
// of the record store and queue ports.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

// SubmitOptions configure a SubmitService.
type SubmitOptions struct {
	Repo      core.JobRepository
	WorkQueue core.Queue
	Logger    *slog.Logger
	// NewID generates job identifiers; defaults to uuid.NewString.
	NewID func() string
}

// SubmitService turns a validated batch of rows into tracked jobs. For each
// row the record is persisted first and the work message enqueued second, so
// a crash between the two leaves a detectable queued record rather than
// untracked in-flight work.
type SubmitService struct {
	repo   core.JobRepository
	queue  core.Queue
	logger *slog.Logger
	newID  func() string
}

// NewSubmitService creates a SubmitService.
func NewSubmitService(opts SubmitOptions) *SubmitService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &SubmitService{
		repo:   opts.Repo,
		queue:  opts.WorkQueue,
		logger: opts.Logger,
		newID:  opts.NewID,
	}
}

// SubmitBatch validates the request and creates one job per row. It returns
// the ids of all jobs created so far; on a mid-batch failure earlier rows
// stay accepted and their ids are returned alongside the error.
func (s *SubmitService) SubmitBatch(ctx context.Context, req *model.SubmitBatchRequest) ([]string, error) {
	if req == nil {
		return nil, imerrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, imerrors.Wrap(err, imerrors.ErrCodeValidation, "invalid batch")
	}

	ids := make([]string, 0, len(req.Rows))
	for i, row := range req.Rows {
		payload, err := withInputReference(row, req.InputReference)
		if err != nil {
			return ids, imerrors.Wrapf(err, imerrors.ErrCodeValidation, "row %d is not a JSON object", i)
		}

		job := &model.Job{
			ID:             s.newID(),
			Type:           req.Type,
			Payload:        payload,
			InputReference: req.InputReference,
			NotifyTarget:   req.NotifyTarget,
		}
		if err := s.repo.Create(ctx, job); err != nil {
			return ids, imerrors.Wrapf(err, imerrors.GetCode(err), "create job for row %d", i)
		}

		body, err := json.Marshal(model.WorkMessage{ID: job.ID, Type: job.Type, Payload: payload})
		if err != nil {
			return ids, imerrors.Wrapf(err, imerrors.ErrCodeInternal, "encode work message for job %s", job.ID)
		}
		if err := s.queue.Enqueue(ctx, body); err != nil {
			// The record exists as queued; a sweep can requeue it later.
			s.logger.ErrorContext(ctx, "work message enqueue failed after persist",
				"job_id", job.ID, "error", err)
			return ids, imerrors.Wrapf(err, imerrors.ErrCodeInternal, "enqueue work for job %s", job.ID)
		}

		ids = append(ids, job.ID)
	}

	s.logger.InfoContext(ctx, "batch submitted", "job_type", req.Type, "jobs", len(ids))
	return ids, nil
}

// withInputReference injects the batch input reference into a row payload
// when the row does not carry its own. Rows must be JSON objects.
func withInputReference(row json.RawMessage, ref string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(row, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["input_reference"]; ok || ref == "" {
		return row, nil
	}
	refJSON, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}
	fields["input_reference"] = refJSON
	return json.Marshal(fields)
}
