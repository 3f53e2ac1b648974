package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// Jobs. CreateJob returns ErrDuplicateKey when the idempotency key is
	// already taken; callers resolve the existing job via GetJobByIdempotencyKey.
	CreateJob(ctx context.Context, job *models.AnalysisJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*models.AnalysisJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	SetModerationStatus(ctx context.Context, id uuid.UUID, status models.ModerationStatus) error
	ListRerunJobs(ctx context.Context, sourceJobID uuid.UUID) ([]*models.AnalysisJob, error)

	// Runs. CreateRun assigns the next attempt number for the job atomically.
	CreateRun(ctx context.Context, jobID uuid.UUID) (*models.AnalysisRun, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, opts ...RunFinishOption) error
	GetLatestRun(ctx context.Context, jobID uuid.UUID) (*models.AnalysisRun, error)
	ListRuns(ctx context.Context, jobID uuid.UUID) ([]*models.AnalysisRun, error)
	RunErrorRate(ctx context.Context, since time.Time) (failed int, total int, err error)

	// Results.
	CreateTraitResult(ctx context.Context, result *models.TraitResult) error
	GetTraitResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.TraitResult, error)

	// Approval policy singleton.
	GetApprovalPolicy(ctx context.Context) (*models.ApprovalPolicy, error)
	UpdateApprovalPolicy(ctx context.Context, mode models.ApprovalMode, updatedBy string) (*models.ApprovalPolicy, error)

	// Audit log (append-only).
	AppendAdminAction(ctx context.Context, action *models.AdminAction) error
	ListAdminActions(ctx context.Context, targetType, targetID string) ([]*models.AdminAction, error)

	// API keys for the auth middleware.
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type runFinishParams struct {
	ErrorCode    *string
	ErrorMessage *string
}

type RunFinishOption func(*runFinishParams)

func WithRunError(code, msg string) RunFinishOption {
	return func(p *runFinishParams) {
		p.ErrorCode = &code
		p.ErrorMessage = &msg
	}
}
