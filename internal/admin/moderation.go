package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

// ModerationView is the audit trail of a job plus its attempt history and
// any re-runs spawned from it.
type ModerationView struct {
	Actions   []*models.AdminAction `json:"actions"`
	Runs      []*models.AnalysisRun `json:"runs"`
	RerunJobs []*models.AnalysisJob `json:"rerun_jobs"`
}

// Flag marks a job's results as suppressed without touching its processing
// status. The underlying analysis rows are untouched.
func (s *Service) Flag(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error) {
	return s.moderate(ctx, jobID, models.ModerationFlagged, models.ActionFlag, actor, reason)
}

// Remove suppresses a job's results more strongly than Flag. Data is kept;
// only visibility changes.
func (s *Service) Remove(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error) {
	return s.moderate(ctx, jobID, models.ModerationRemoved, models.ActionRemove, actor, reason)
}

func (s *Service) moderate(ctx context.Context, jobID uuid.UUID, status models.ModerationStatus, action, actor, reason string) (*models.AnalysisJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetModerationStatus(ctx, jobID, status); err != nil {
		return nil, err
	}
	job.ModerationStatus = status
	job.UpdatedAt = time.Now().UTC()

	s.audit(ctx, action, targetTypeJob, jobID.String(), reason, actor)
	slog.Info("job moderated", "job_id", jobID, "moderation_status", status, "actor", actor)
	return job, nil
}

// Rerun creates a fresh job linked to the source via rerun_of_job_id and
// enqueues it immediately, regardless of the source job's current status.
// The approval gate is bypassed: an administrator already authorized it.
func (s *Service) Rerun(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error) {
	source, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rerun := &models.AnalysisJob{
		ID:                   uuid.New(),
		IdempotencyKey:       fmt.Sprintf("rerun:%s:%s", source.ID, uuid.New()),
		RunType:              source.RunType,
		ImageID:              source.ImageID,
		Status:               models.JobStatusQueued,
		ModerationStatus:     models.ModerationNone,
		RerunOfJobID:         &source.ID,
		SubmissionContext:    source.SubmissionContext,
		ModelFamily:          source.ModelFamily,
		ModelVersion:         source.ModelVersion,
		ModelSelectionSource: "admin-rerun",
		SubmittedAt:          time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}

	if err := s.store.CreateJob(ctx, rerun); err != nil {
		return nil, err
	}
	if err := s.enqueuer.EnqueueJob(ctx, rerun); err != nil {
		return nil, err
	}

	s.audit(ctx, models.ActionRerun, targetTypeJob, jobID.String(), reason, actor)
	slog.Info("job re-run", "source_job_id", source.ID, "rerun_job_id", rerun.ID, "actor", actor)
	return rerun, nil
}

// Moderation returns the audit trail and rerun lineage for a job.
func (s *Service) Moderation(ctx context.Context, jobID uuid.UUID) (*ModerationView, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	actions, err := s.store.ListAdminActions(ctx, targetTypeJob, jobID.String())
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, jobID)
	if err != nil {
		return nil, err
	}
	reruns, err := s.store.ListRerunJobs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &ModerationView{Actions: actions, Runs: runs, RerunJobs: reruns}, nil
}
