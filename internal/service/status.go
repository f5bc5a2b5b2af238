package service

import (
	"context"
	"log/slog"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/domain/model"
)

// StatusOptions configure a StatusService.
type StatusOptions struct {
	Repo   core.JobRepository
	Logger *slog.Logger
}

// StatusService serves read-only views of job records.
type StatusService struct {
	repo   core.JobRepository
	logger *slog.Logger
}

// NewStatusService creates a StatusService.
func NewStatusService(opts StatusOptions) *StatusService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &StatusService{repo: opts.Repo, logger: opts.Logger}
}

// GetStatus returns the status snapshot for a job, or a NotFound error.
func (s *StatusService) GetStatus(ctx context.Context, id string) (*model.JobSnapshot, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := job.Snapshot()
	return &snap, nil
}

// GetStats returns per-state job counts for a job type.
func (s *StatusService) GetStats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	return s.repo.Stats(ctx, jobType)
}
