package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("styledna_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newJob() *models.AnalysisJob {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.AnalysisJob{
		ID:                   uuid.New(),
		IdempotencyKey:       "key-" + uuid.NewString(),
		RunType:              models.RunTypeTrait,
		ImageID:              "img-1",
		Status:               models.JobStatusQueued,
		ModerationStatus:     models.ModerationNone,
		SubmissionContext:    []byte(`{"note":"test"}`),
		ModelFamily:          "deterministic",
		ModelVersion:         "v1",
		ModelSelectionSource: "default",
		SubmittedAt:          now,
		UpdatedAt:            now,
	}
}

// --- Job tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.JSONEq(t, `{"note":"test"}`, string(got.SubmissionContext))

	byKey, err := s.GetJobByIdempotencyKey(ctx, job.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, job.ID, byKey.ID)
}

func TestJob_DuplicateIdempotencyKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	first := newJob()
	require.NoError(t, s.CreateJob(ctx, first))

	second := newJob()
	second.IdempotencyKey = first.IdempotencyKey
	err := s.CreateJob(ctx, second)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_UpdateStatusFollowsTransitionTable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusInProgress))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded))

	// Terminal: any further move is rejected.
	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusQueued)
	var invalid *models.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.JobStatusSucceeded, invalid.From)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
}

func TestJob_UpdateStatusSkippingStateRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded)
	var invalid *models.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestJob_ModerationAndRerunListing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	source := newJob()
	require.NoError(t, s.CreateJob(ctx, source))
	require.NoError(t, s.SetModerationStatus(ctx, source.ID, models.ModerationFlagged))

	got, err := s.GetJob(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationFlagged, got.ModerationStatus)
	assert.Equal(t, models.JobStatusQueued, got.Status, "moderation leaves processing status alone")

	rerun := newJob()
	rerun.RerunOfJobID = &source.ID
	require.NoError(t, s.CreateJob(ctx, rerun))

	reruns, err := s.ListRerunJobs(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, reruns, 1)
	assert.Equal(t, rerun.ID, reruns[0].ID)
}

// --- Run tests ---

func TestRun_AttemptNumbersIncrease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))

	first, err := s.CreateRun(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AttemptCount)
	assert.Equal(t, models.RunStatusRunning, first.Status)

	second, err := s.CreateRun(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptCount)

	latest, err := s.GetLatestRun(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestRun_FinishRecordsErrorDetail(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))
	run, err := s.CreateRun(ctx, job.ID)
	require.NoError(t, err)

	err = s.FinishRun(ctx, run.ID, models.RunStatusFailed,
		store.WithRunError("PROVIDER_UNAVAILABLE", "upstream 503"))
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].LastErrorCode)
	assert.Equal(t, "PROVIDER_UNAVAILABLE", *runs[0].LastErrorCode)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestRun_HistoryKeptAcrossAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))

	failed, err := s.CreateRun(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, failed.ID, models.RunStatusFailed,
		store.WithRunError("INFERENCE_TIMEOUT", "deadline exceeded")))

	ok, err := s.CreateRun(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, ok.ID, models.RunStatusSucceeded))

	runs, err := s.ListRuns(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2, "failed attempt stays after a later success")
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, models.RunStatusSucceeded, runs[1].Status)
}

func TestRun_ErrorRate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))

	for i := 0; i < 3; i++ {
		run, err := s.CreateRun(ctx, job.ID)
		require.NoError(t, err)
		status := models.RunStatusSucceeded
		if i == 0 {
			status = models.RunStatusFailed
		}
		require.NoError(t, s.FinishRun(ctx, run.ID, status))
	}

	failed, total, err := s.RunErrorRate(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, total)
}

// --- Trait result tests ---

func TestTraitResult_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.CreateJob(ctx, job))
	run, err := s.CreateRun(ctx, job.ID)
	require.NoError(t, err)

	result := &models.TraitResult{
		ID:          uuid.New(),
		JobID:       job.ID,
		RunID:       run.ID,
		ImageID:     job.ImageID,
		Provider:    "deterministic",
		Model:       "v1",
		TraitVector: []float64{0.1, 0.5, 0.9},
		Attributes:  []byte(`{"style_family":"minimalist"}`),
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateTraitResult(ctx, result))

	got, err := s.GetTraitResultByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, got.ID)
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, got.TraitVector)
	assert.JSONEq(t, `{"style_family":"minimalist"}`, string(got.Attributes))
}

// --- Approval policy tests ---

func TestApprovalPolicy_SeededAndUpdatable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	policy, err := s.GetApprovalPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeAuto, policy.Mode)
	assert.Equal(t, "system", policy.UpdatedBy)

	updated, err := s.UpdateApprovalPolicy(ctx, models.ApprovalModeManual, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeManual, updated.Mode)
	assert.Equal(t, "admin-1", updated.UpdatedBy)

	again, err := s.GetApprovalPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeManual, again.Mode)
}

// --- Admin action tests ---

func TestAdminActions_AppendAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	jobID := uuid.NewString()
	for i, action := range []string{models.ActionFlag, models.ActionRerun} {
		require.NoError(t, s.AppendAdminAction(ctx, &models.AdminAction{
			ID:         uuid.New(),
			Action:     action,
			TargetType: "analysis_job",
			TargetID:   jobID,
			Reason:     "test",
			Actor:      "admin-1",
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	actions, err := s.ListAdminActions(ctx, "analysis_job", jobID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionFlag, actions[0].Action)
	assert.Equal(t, models.ActionRerun, actions[1].Action)

	other, err := s.ListAdminActions(ctx, "analysis_job", uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}

// --- API key tests ---

func TestAPIKey_CreateAndGetByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "ops-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "sd_abcde",
		Scopes:    []string{"read", "admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "sd_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ops-key", keys[0].Name)
	assert.Equal(t, []string{"read", "admin"}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "sd_abcde")
	require.NoError(t, err)
	require.NotNil(t, keys[0].LastUsedAt)
}
