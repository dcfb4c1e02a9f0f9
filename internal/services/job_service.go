package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aistory/aistory-web/internal/clients/engine"
	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
	"github.com/aistory/aistory-web/internal/repos"
)

var ErrJobNotFound = errors.New("job not found")

// RemoveResult is the JSON body of DELETE /api/jobs/:id. Status is
// "deleted" when the row is gone, "cancelling"/"cancelled" when it stays,
// and empty when a terminal row was simply deleted.
type RemoveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type JobService interface {
	List(ctx context.Context, ownerID *uuid.UUID) ([]*domain.Job, error)
	GetForOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*domain.Job, error)
	Create(ctx context.Context, ownerID *uuid.UUID, req engine.CreateRequest) (*engine.CreateResponse, error)
	Remove(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, bearer string) (*RemoveResult, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRepo
	engine engine.API
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRepo, eng engine.API, notify JobNotifier) JobService {
	return &jobService{
		db:     db,
		log:    baseLog.With("service", "JobService"),
		repo:   repo,
		engine: eng,
		notify: notify,
	}
}

func (s *jobService) List(ctx context.Context, ownerID *uuid.UUID) ([]*domain.Job, error) {
	jobs, err := s.repo.List(ctx, nil, ownerID, 50)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *jobService) GetForOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*domain.Job, error) {
	job, err := s.repo.GetByID(ctx, nil, id, &ownerID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Create asks the engine to queue the job, then mirrors the row locally so
// list/get/push all have a record to work from before the engine's first
// status write lands.
func (s *jobService) Create(ctx context.Context, ownerID *uuid.UUID, req engine.CreateRequest) (*engine.CreateResponse, error) {
	resp, err := s.engine.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}

	jobID, err := uuid.Parse(resp.JobID)
	if err != nil {
		return nil, fmt.Errorf("engine returned invalid job id %q: %w", resp.JobID, err)
	}

	status := domain.JobStatus(resp.Status)
	if !status.Known() {
		status = domain.JobStatusPending
	}

	job := &domain.Job{
		ID:               jobID,
		OwnerID:          ownerID,
		Idea:             req.Idea,
		Style:            req.Style,
		ImageEngine:      req.ImageEngine,
		LanguageEngine:   req.LanguageEngine,
		Voice:            req.Voice,
		SubtitlePosition: req.SubtitlePosition,
		TestMode:         req.TestMode,
		Status:           status,
	}
	if _, err := s.repo.Create(ctx, nil, job); err != nil {
		// the engine accepted the job; the row will appear once it reports
		s.log.Warn("failed to mirror created job row", "job_id", jobID, "error", err)
	} else {
		s.notify.JobCreated(ctx, job)
	}

	return resp, nil
}

// Remove implements the cancel-or-delete overload. Active jobs go through
// the engine first because only it knows whether the worker has really
// stopped; terminal (and never-started pending) rows are deleted directly.
func (s *jobService) Remove(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, bearer string) (*RemoveResult, error) {
	job, err := s.repo.GetByID(ctx, nil, id, &ownerID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	if !job.Status.Active() {
		if err := s.repo.Delete(ctx, nil, id, &ownerID); err != nil {
			return nil, fmt.Errorf("delete job: %w", err)
		}
		s.notify.JobRemoved(ctx, id)
		return &RemoveResult{Success: true, Message: "Job deleted successfully"}, nil
	}

	res, err := s.engine.CancelJob(ctx, id, bearer)
	if err != nil {
		// engine unreachable: favor forward progress over strict accuracy
		// and mark the row cancelled locally
		s.log.Warn("engine unreachable during cancel", "job_id", id, "error", err)
		return s.forceCancelled(ctx, id, ownerID, "Job marked as cancelled (engine unreachable)")
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode <= 299:
		if res.Status == string(domain.JobStatusCancelled) {
			if err := s.repo.Delete(ctx, nil, id, &ownerID); err != nil {
				return nil, fmt.Errorf("delete cancelled job: %w", err)
			}
			s.notify.JobRemoved(ctx, id)
			return &RemoveResult{Success: true, Message: "Job cancelled and deleted", Status: "deleted"}, nil
		}
		// still cancelling: the worker is draining, the row stays
		return &RemoveResult{Success: true, Message: res.Message, Status: res.Status}, nil

	case res.StatusCode == 404:
		// engine no longer knows the job; it likely finished in between
		current, err := s.repo.GetByID(ctx, nil, id, &ownerID)
		if err != nil {
			return nil, fmt.Errorf("re-read job: %w", err)
		}
		if current != nil && current.Status.Terminal() {
			if err := s.repo.Delete(ctx, nil, id, &ownerID); err != nil {
				return nil, fmt.Errorf("delete job: %w", err)
			}
			s.notify.JobRemoved(ctx, id)
			return &RemoveResult{Success: true, Message: "Job deleted successfully"}, nil
		}
		return s.forceCancelled(ctx, id, ownerID, "Job marked as cancelled (not found in processing queue)")

	default:
		msg := res.Detail
		if msg == "" {
			msg = "failed to cancel job"
		}
		return nil, &engine.StatusError{Code: res.StatusCode, Message: msg}
	}
}

func (s *jobService) forceCancelled(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, message string) (*RemoveResult, error) {
	if err := s.repo.UpdateFields(ctx, nil, id, map[string]any{"status": domain.JobStatusCancelled}); err != nil {
		return nil, fmt.Errorf("mark job cancelled: %w", err)
	}
	if job, err := s.repo.GetByID(ctx, nil, id, &ownerID); err == nil && job != nil {
		s.notify.JobUpdated(ctx, job)
	}
	return &RemoveResult{Success: true, Message: message, Status: string(domain.JobStatusCancelled)}, nil
}
