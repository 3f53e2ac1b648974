// Package admin implements the operator surfaces: approval of pending jobs,
// the global approval policy, and moderation of finished ones. Every action
// here lands in the append-only audit log.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/internal/cache"
	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// ErrConflict is returned when an action does not apply to the job's
// current state (e.g. approving a job that is not awaiting approval).
var ErrConflict = errors.New("action conflicts with current state")

const (
	targetTypeJob    = "analysis_job"
	targetTypePolicy = "approval_policy"
)

// Enqueuer publishes a persisted job onto the primary queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job *models.AnalysisJob) error
}

// Service handles administrator actions.
type Service struct {
	store    store.Store
	cache    cache.Cache
	enqueuer Enqueuer
}

func NewService(st store.Store, ca cache.Cache, enq Enqueuer) *Service {
	return &Service{store: st, cache: ca, enqueuer: enq}
}

func (s *Service) audit(ctx context.Context, action, targetType, targetID, reason, actor string) {
	entry := &models.AdminAction{
		ID:         uuid.New(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendAdminAction(ctx, entry); err != nil {
		// The audit trail must not block the action itself; log loudly.
		slog.Error("audit append failed", "action", action, "target_id", targetID, "error", err)
	}
}

// Approve releases a pending_approval job into the queue.
func (s *Service) Approve(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error) {
	job, err := s.transitionPending(ctx, jobID, models.JobStatusQueued)
	if err != nil {
		return nil, err
	}

	if err := s.enqueuer.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}

	s.audit(ctx, models.ActionApprove, targetTypeJob, jobID.String(), reason, actor)
	slog.Info("job approved", "job_id", jobID, "actor", actor)
	return job, nil
}

// Reject terminally fails a pending_approval job without enqueueing it.
func (s *Service) Reject(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error) {
	job, err := s.transitionPending(ctx, jobID, models.JobStatusFailed)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.ActionReject, targetTypeJob, jobID.String(), reason, actor)
	slog.Info("job rejected", "job_id", jobID, "actor", actor)
	return job, nil
}

func (s *Service) transitionPending(ctx context.Context, jobID uuid.UUID, to models.JobStatus) (*models.AnalysisJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPendingApproval {
		return nil, fmt.Errorf("%w: job is %s, not %s", ErrConflict, job.Status, models.JobStatusPendingApproval)
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, to); err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}

	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	return job, nil
}

// PolicyView pairs the active policy with its audit trail.
type PolicyView struct {
	Policy  *models.ApprovalPolicy `json:"policy"`
	Actions []*models.AdminAction  `json:"actions"`
}

// CacheInvalidation describes what a policy write evicted from the cache.
type CacheInvalidation struct {
	Invalidated        bool  `json:"invalidated"`
	InvalidatedEntries int64 `json:"invalidated_entries"`
}

// GetPolicy returns the active approval policy and its change history.
func (s *Service) GetPolicy(ctx context.Context) (*PolicyView, error) {
	policy, err := s.store.GetApprovalPolicy(ctx)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListAdminActions(ctx, targetTypePolicy, "global")
	if err != nil {
		return nil, err
	}
	return &PolicyView{Policy: policy, Actions: actions}, nil
}

// SetPolicy changes the global approval mode and invalidates the cached
// policy so the next submission observes the new mode immediately.
func (s *Service) SetPolicy(ctx context.Context, mode models.ApprovalMode, actor, reason string) (*PolicyView, *CacheInvalidation, error) {
	if !mode.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown approval mode %q", ErrConflict, mode)
	}

	policy, err := s.store.UpdateApprovalPolicy(ctx, mode, actor)
	if err != nil {
		return nil, nil, err
	}

	invalidation := &CacheInvalidation{}
	entries, err := s.cache.InvalidateApprovalPolicy(ctx)
	if err != nil {
		slog.Error("policy cache invalidation failed", "error", err)
	} else {
		invalidation.Invalidated = true
		invalidation.InvalidatedEntries = entries
	}

	s.audit(ctx, models.ActionPolicyChange, targetTypePolicy, "global", reason, actor)
	slog.Info("approval policy changed", "mode", mode, "actor", actor)

	actions, err := s.store.ListAdminActions(ctx, targetTypePolicy, "global")
	if err != nil {
		return nil, nil, err
	}
	return &PolicyView{Policy: policy, Actions: actions}, invalidation, nil
}
