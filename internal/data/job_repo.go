// Package data provides the Postgres-backed record store for the pipeline.
package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger *slog.Logger
	Clock  core.Clock
}

// JobRepo provides database operations for job records. All single-record
// writes are conditional updates keyed on the expected prior state, so
// concurrent duplicate deliveries serialize at the row.
type JobRepo struct {
	pool   *pgxpool.Pool
	clock  core.Clock
	logger *slog.Logger
}

// NewJobRepo creates a new JobRepo with the given connection pool.
func NewJobRepo(pool *pgxpool.Pool, cfg RepoConfig) *JobRepo {
	clock := cfg.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{pool: pool, clock: clock, logger: logger}
}

const jobColumns = `
  id,
  job_type,
  status,
  payload,
  input_reference,
  output_reference,
  failure_reason,
  notify_target,
  notified,
  created_at,
  updated_at,
  completed_at
`

// Create persists a new job record with status queued.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	if job.ID == "" {
		return imerrors.Validation("job id is required")
	}
	if !job.Type.Valid() {
		return imerrors.Validationf("invalid job type: %s", job.Type)
	}

	now := r.clock.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, job_type, status, payload, input_reference, notify_target, notified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $7)
	`, job.ID, job.Type, model.JobStatusQueued, []byte(job.Payload), job.InputReference, job.NotifyTarget, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return imerrors.Conflict(fmt.Sprintf("job id %s already exists", job.ID))
		}
		return imerrors.Wrap(err, imerrors.ErrCodeStore, "insert job")
	}

	job.Status = model.JobStatusQueued
	job.Notified = false
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetByID retrieves a job record by its identifier.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, imerrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, imerrors.Wrap(err, imerrors.ErrCodeStore, "get job")
	}
	return job, nil
}

// MarkProcessing transitions a queued job to processing. Late or duplicate
// deliveries find the row no longer queued and report false without error.
func (r *JobRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, model.JobStatusProcessing, r.clock.Now().UTC(), model.JobStatusQueued)
	if err != nil {
		return false, imerrors.Wrap(err, imerrors.ErrCodeStore, "mark processing")
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyTerminal applies a terminal transition from a result message. The
// conditional update only matches non-terminal rows, so the first terminal
// write wins and later deliveries are classified by re-reading the row.
func (r *JobRepo) ApplyTerminal(ctx context.Context, res *model.ResultMessage) (core.ApplyOutcome, error) {
	if res == nil {
		return core.ApplyConflict, errors.New("result message is required")
	}
	if !res.Status.Terminal() {
		return core.ApplyConflict, imerrors.Validationf("status %s is not terminal", res.Status)
	}

	var outputRef, failureReason *string
	if res.Status == model.JobStatusCompleted {
		outputRef = &res.OutputReference
	} else if res.ErrorReason != "" {
		failureReason = &res.ErrorReason
	}

	now := r.clock.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
		    output_reference = $3,
		    failure_reason = $4,
		    completed_at = $5,
		    updated_at = $5
		WHERE id = $1 AND status IN ($6, $7)
	`, res.ID, res.Status, outputRef, failureReason, now,
		model.JobStatusQueued, model.JobStatusProcessing)
	if err != nil {
		return core.ApplyConflict, imerrors.Wrap(err, imerrors.ErrCodeStore, "apply terminal transition")
	}
	if tag.RowsAffected() == 1 {
		return core.ApplyApplied, nil
	}

	// Zero rows: the record is absent or already terminal. Classify.
	current, err := r.GetByID(ctx, res.ID)
	if err != nil {
		return core.ApplyConflict, err
	}
	if current.Status == res.Status {
		return core.ApplyDuplicate, nil
	}
	if current.Status.Terminal() {
		return core.ApplyConflict, imerrors.Consistencyf(
			"job %s already %s, rejecting conflicting terminal %s", res.ID, current.Status, res.Status)
	}
	return core.ApplyConflict, imerrors.Internal(
		fmt.Sprintf("job %s not transitioned despite non-terminal status %s", res.ID, current.Status))
}

// MarkNotified flips the notified flag for a terminal record, at most once.
func (r *JobRepo) MarkNotified(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET notified = true, updated_at = $2
		WHERE id = $1 AND notified = false AND status IN ($3, $4)
	`, id, r.clock.Now().UTC(), model.JobStatusCompleted, model.JobStatusFailed)
	if err != nil {
		return false, imerrors.Wrap(err, imerrors.ErrCodeStore, "mark notified")
	}
	return tag.RowsAffected() == 1, nil
}

// Stats returns per-state counts for jobs of the given type.
func (r *JobRepo) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	var s model.JobStats
	err := r.pool.QueryRow(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'queued')     AS queued,
	    count(*) FILTER (WHERE status = 'processing') AS processing,
	    count(*) FILTER (WHERE status = 'completed')  AS completed,
	    count(*) FILTER (WHERE status = 'failed')     AS failed
	  FROM jobs
	  WHERE job_type = $1
	`, jobType).Scan(&s.Queued, &s.Processing, &s.Completed, &s.Failed)
	if err != nil {
		return nil, imerrors.Wrap(err, imerrors.ErrCodeStore, "job stats")
	}
	return &s, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	job := &model.Job{}
	var payload []byte
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&payload,
		&job.InputReference,
		&job.OutputReference,
		&job.FailureReason,
		&job.NotifyTarget,
		&job.Notified,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	return job, nil
}

var _ core.JobRepository = (*JobRepo)(nil)
