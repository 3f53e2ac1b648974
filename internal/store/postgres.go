package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, idempotency_key, run_type, image_id, status, moderation_status,
	rerun_of_job_id, submission_context, model_family, model_version, model_selection_source, submitted_at, updated_at`

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := row.Scan(&j.ID, &j.IdempotencyKey, &j.RunType, &j.ImageID, &j.Status,
		&j.ModerationStatus, &j.RerunOfJobID, &j.SubmissionContext, &j.ModelFamily,
		&j.ModelVersion, &j.ModelSelectionSource, &j.SubmittedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (id, idempotency_key, run_type, image_id, status, moderation_status,
		   rerun_of_job_id, submission_context, model_family, model_version, model_selection_source, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.IdempotencyKey, job.RunType, job.ImageID, job.Status, job.ModerationStatus,
		job.RerunOfJobID, job.SubmissionContext, job.ModelFamily, job.ModelVersion,
		job.ModelSelectionSource, job.SubmittedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *PostgresStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.AnalysisJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE idempotency_key = $1`, key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job by idempotency key: %w", err)
	}
	return j, err
}

// UpdateJobStatus moves a job to a new processing status after validating
// the change against the transition table.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	var current models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if err := models.Transition(current, status); err != nil {
		return err
	}

	// Guard on the previously read status so concurrent writers cannot both win.
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, status, current)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.InvalidTransitionError{From: current, To: status}
	}
	return nil
}

func (s *PostgresStore) SetModerationStatus(ctx context.Context, id uuid.UUID, status models.ModerationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET moderation_status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set moderation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRerunJobs(ctx context.Context, sourceJobID uuid.UUID) ([]*models.AnalysisJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE rerun_of_job_id = $1 ORDER BY submitted_at`,
		sourceJobID)
	if err != nil {
		return nil, fmt.Errorf("list rerun jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rerun job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Runs ---

// CreateRun inserts a new run for the job with attempt_count one above the
// job's current maximum. The subselect runs inside the INSERT so concurrent
// workers cannot allocate the same attempt number.
func (s *PostgresStore) CreateRun(ctx context.Context, jobID uuid.UUID) (*models.AnalysisRun, error) {
	var r models.AnalysisRun
	err := s.pool.QueryRow(ctx,
		`INSERT INTO analysis_runs (id, job_id, attempt_count, status, started_at)
		 SELECT $1, $2, COALESCE(MAX(attempt_count), 0) + 1, $3, NOW()
		 FROM analysis_runs WHERE job_id = $2
		 RETURNING id, job_id, attempt_count, status, started_at, completed_at, last_error_code, last_error_message`,
		uuid.New(), jobID, models.RunStatusRunning,
	).Scan(&r.ID, &r.JobID, &r.AttemptCount, &r.Status, &r.StartedAt,
		&r.CompletedAt, &r.LastErrorCode, &r.LastErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID uuid.UUID, status models.RunStatus, opts ...RunFinishOption) error {
	params := &runFinishParams{}
	for _, opt := range opts {
		opt(params)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET status = $2, completed_at = NOW(),
		   last_error_code = $3, last_error_message = $4
		 WHERE id = $1`,
		runID, status, params.ErrorCode, params.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetLatestRun(ctx context.Context, jobID uuid.UUID) (*models.AnalysisRun, error) {
	var r models.AnalysisRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, attempt_count, status, started_at, completed_at, last_error_code, last_error_message
		 FROM analysis_runs WHERE job_id = $1 ORDER BY attempt_count DESC LIMIT 1`, jobID,
	).Scan(&r.ID, &r.JobID, &r.AttemptCount, &r.Status, &r.StartedAt,
		&r.CompletedAt, &r.LastErrorCode, &r.LastErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, jobID uuid.UUID) ([]*models.AnalysisRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, attempt_count, status, started_at, completed_at, last_error_code, last_error_message
		 FROM analysis_runs WHERE job_id = $1 ORDER BY attempt_count`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.AnalysisRun
	for rows.Next() {
		var r models.AnalysisRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.AttemptCount, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.LastErrorCode, &r.LastErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// RunErrorRate counts failed and total completed runs since the given time.
func (s *PostgresStore) RunErrorRate(ctx context.Context, since time.Time) (int, int, error) {
	var failed, total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = $2), COUNT(*)
		 FROM analysis_runs WHERE completed_at >= $1`, since, models.RunStatusFailed,
	).Scan(&failed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("run error rate: %w", err)
	}
	return failed, total, nil
}

// --- Trait results ---

func (s *PostgresStore) CreateTraitResult(ctx context.Context, result *models.TraitResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trait_results (id, job_id, run_id, image_id, provider, model, trait_vector, attributes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.ID, result.JobID, result.RunID, result.ImageID, result.Provider,
		result.Model, result.TraitVector, result.Attributes, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("create trait result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTraitResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.TraitResult, error) {
	var r models.TraitResult
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, run_id, image_id, provider, model, trait_vector, attributes, created_at
		 FROM trait_results WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`, jobID,
	).Scan(&r.ID, &r.JobID, &r.RunID, &r.ImageID, &r.Provider, &r.Model,
		&r.TraitVector, &r.Attributes, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trait result by job: %w", err)
	}
	return &r, nil
}

// --- Approval policy ---

func (s *PostgresStore) GetApprovalPolicy(ctx context.Context) (*models.ApprovalPolicy, error) {
	var p models.ApprovalPolicy
	err := s.pool.QueryRow(ctx,
		`SELECT approval_mode, updated_by, updated_at FROM approval_policy WHERE singleton = TRUE`,
	).Scan(&p.Mode, &p.UpdatedBy, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval policy: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateApprovalPolicy(ctx context.Context, mode models.ApprovalMode, updatedBy string) (*models.ApprovalPolicy, error) {
	var p models.ApprovalPolicy
	err := s.pool.QueryRow(ctx,
		`UPDATE approval_policy SET approval_mode = $1, updated_by = $2, updated_at = NOW()
		 WHERE singleton = TRUE
		 RETURNING approval_mode, updated_by, updated_at`,
		mode, updatedBy,
	).Scan(&p.Mode, &p.UpdatedBy, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update approval policy: %w", err)
	}
	return &p, nil
}

// --- Audit log ---

func (s *PostgresStore) AppendAdminAction(ctx context.Context, action *models.AdminAction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admin_actions (id, action, target_type, target_id, reason, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		action.ID, action.Action, action.TargetType, action.TargetID,
		action.Reason, action.Actor, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("append admin action: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAdminActions(ctx context.Context, targetType, targetID string) ([]*models.AdminAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, action, target_type, target_id, reason, actor, created_at
		 FROM admin_actions WHERE target_type = $1 AND target_id = $2 ORDER BY created_at`,
		targetType, targetID)
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.AdminAction
	for rows.Next() {
		var a models.AdminAction
		if err := rows.Scan(&a.ID, &a.Action, &a.TargetType, &a.TargetID,
			&a.Reason, &a.Actor, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin action: %w", err)
		}
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// --- API keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
