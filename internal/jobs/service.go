// Package jobs implements job submission and lookup: admission control via
// the approval policy, idempotent creation, and result retrieval with
// moderation suppression.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/internal/cache"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// policyCacheTTL bounds staleness if an invalidation is ever lost.
const policyCacheTTL = 5 * time.Minute

// SubmitParams holds a validated job submission.
type SubmitParams struct {
	IdempotencyKey string
	RunType        models.RunType
	ImageID        string
	Context        map[string]any
}

// SubmitResult is the outcome of a submission. Reused is true when the
// idempotency key matched an existing job and no new job was created.
type SubmitResult struct {
	Job    *models.AnalysisJob    `json:"job"`
	Reused bool                   `json:"reused"`
	Policy *models.ApprovalPolicy `json:"approval_policy"`
}

// ResultView is the payload of a result lookup. Result is nil when no run
// has succeeded yet or when moderation suppresses visibility.
type ResultView struct {
	Result    *models.TraitResult `json:"result"`
	LatestRun *models.AnalysisRun `json:"latest_run,omitempty"`
}

// Service orchestrates submissions against the store and the queue.
type Service struct {
	store store.Store
	queue queue.Adapter
	cache cache.Cache

	modelFamily  string
	modelVersion string
}

// NewService creates a jobs Service. modelFamily/modelVersion record which
// analysis model submissions are pinned to.
func NewService(st store.Store, q queue.Adapter, ca cache.Cache, modelFamily, modelVersion string) *Service {
	return &Service{
		store:        st,
		queue:        q,
		cache:        ca,
		modelFamily:  modelFamily,
		modelVersion: modelVersion,
	}
}

// EntryStatus is the approval gate: a pure function of the current policy
// deciding the state a newly submitted job enters.
func EntryStatus(policy *models.ApprovalPolicy) models.JobStatus {
	if policy.Mode == models.ApprovalModeManual {
		return models.JobStatusPendingApproval
	}
	return models.JobStatusQueued
}

// activePolicy reads the approval policy, serving from cache when present.
// Policy writes invalidate the cache entry, so a submission always observes
// a policy no older than the last change.
func (s *Service) activePolicy(ctx context.Context) (*models.ApprovalPolicy, error) {
	if p, found, err := s.cache.GetApprovalPolicy(ctx); err == nil && found {
		return p, nil
	}

	p, err := s.store.GetApprovalPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("read approval policy: %w", err)
	}
	if err := s.cache.SetApprovalPolicy(ctx, p, policyCacheTTL); err != nil {
		slog.Warn("caching approval policy failed", "error", err)
	}
	return p, nil
}

// Submit creates a job for the given submission, or returns the existing
// one when the idempotency key has been seen before. Under auto-approve the
// job is enqueued immediately; under manual it waits for admin approval.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	policy, err := s.activePolicy(ctx)
	if err != nil {
		return nil, err
	}

	var submissionContext json.RawMessage
	if len(params.Context) > 0 {
		submissionContext, err = json.Marshal(params.Context)
		if err != nil {
			return nil, fmt.Errorf("encode submission context: %w", err)
		}
	}

	job := &models.AnalysisJob{
		ID:                   uuid.New(),
		IdempotencyKey:       params.IdempotencyKey,
		RunType:              params.RunType,
		ImageID:              params.ImageID,
		Status:               EntryStatus(policy),
		ModerationStatus:     models.ModerationNone,
		SubmissionContext:    submissionContext,
		ModelFamily:          s.modelFamily,
		ModelVersion:         s.modelVersion,
		ModelSelectionSource: "default",
		SubmittedAt:          time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}

	err = s.store.CreateJob(ctx, job)
	if errors.Is(err, store.ErrDuplicateKey) {
		// Lost the race (or a straight resubmission): the key holder wins.
		existing, err := s.store.GetJobByIdempotencyKey(ctx, params.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("resolve idempotent submission: %w", err)
		}
		if existing.Status == models.JobStatusQueued {
			// The earlier submission may have failed between the insert and
			// the publish, leaving a queued row with no message. Re-publish:
			// the worker drops duplicate deliveries of a finished job.
			if err := s.EnqueueJob(ctx, existing); err != nil {
				return nil, err
			}
		}
		return &SubmitResult{Job: existing, Reused: true, Policy: policy}, nil
	}
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobStatusQueued {
		if err := s.enqueue(ctx, job, params.Context); err != nil {
			return nil, err
		}
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, job.Status, 30*time.Minute)

	slog.Info("job submitted",
		"job_id", job.ID, "run_type", job.RunType, "status", job.Status,
		"approval_mode", policy.Mode)
	return &SubmitResult{Job: job, Reused: false, Policy: policy}, nil
}

// enqueue publishes the job envelope to the primary queue.
func (s *Service) enqueue(ctx context.Context, job *models.AnalysisJob, jobContext map[string]any) error {
	body, err := queue.NewJobEnvelope(job, jobContext).Encode()
	if err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, body); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueJob publishes an envelope for an already-persisted job, rebuilding
// the submission context from the job row. Used by admin approval and
// moderation re-run, which enqueue after the fact.
func (s *Service) EnqueueJob(ctx context.Context, job *models.AnalysisJob) error {
	var jobContext map[string]any
	if len(job.SubmissionContext) > 0 {
		if err := json.Unmarshal(job.SubmissionContext, &jobContext); err != nil {
			return fmt.Errorf("decode submission context for job %s: %w", job.ID, err)
		}
	}
	return s.enqueue(ctx, job, jobContext)
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return s.store.GetJob(ctx, id)
}

// GetResult returns the job's analysis result and latest run. Flagged or
// removed jobs return a nil result even though the underlying row still
// exists; moderation suppresses visibility, it does not delete data.
func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*ResultView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &ResultView{}

	run, err := s.store.GetLatestRun(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	view.LatestRun = run

	if job.ModerationStatus.Suppressed() {
		return view, nil
	}

	result, err := s.store.GetTraitResultByJobID(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	view.Result = result
	return view, nil
}
