package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.AnalysisJob
	runs    map[uuid.UUID][]*models.AnalysisRun
	actions []*models.AdminAction
	policy  *models.ApprovalPolicy
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:   make(map[uuid.UUID]*models.AnalysisJob),
		runs:   make(map[uuid.UUID][]*models.AnalysisRun),
		policy: &models.ApprovalPolicy{Mode: models.ApprovalModeAuto, UpdatedBy: "system", UpdatedAt: time.Now()},
	}
}

func (s *mockStore) addJob(status models.JobStatus) *models.AnalysisJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &models.AnalysisJob{
		ID:                uuid.New(),
		IdempotencyKey:    uuid.NewString(),
		RunType:           models.RunTypeTrait,
		ImageID:           "img-1",
		Status:            status,
		ModerationStatus:  models.ModerationNone,
		SubmissionContext: []byte(`{"note":"original"}`),
		ModelFamily:       "deterministic",
		ModelVersion:      "v1",
		SubmittedAt:       time.Now(),
	}
	s.jobs[job.ID] = job
	return job
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateJob(_ context.Context, job *models.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (s *mockStore) GetJobByIdempotencyKey(_ context.Context, _ string) (*models.AnalysisJob, error) {
	return nil, store.ErrNotFound
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := models.Transition(j.Status, status); err != nil {
		return err
	}
	j.Status = status
	return nil
}

func (s *mockStore) SetModerationStatus(_ context.Context, id uuid.UUID, status models.ModerationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.ModerationStatus = status
	return nil
}

func (s *mockStore) ListRerunJobs(_ context.Context, sourceJobID uuid.UUID) ([]*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AnalysisJob
	for _, j := range s.jobs {
		if j.RerunOfJobID != nil && *j.RerunOfJobID == sourceJobID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *mockStore) CreateRun(_ context.Context, _ uuid.UUID) (*models.AnalysisRun, error) {
	return nil, nil
}
func (s *mockStore) FinishRun(_ context.Context, _ uuid.UUID, _ models.RunStatus, _ ...store.RunFinishOption) error {
	return nil
}
func (s *mockStore) GetLatestRun(_ context.Context, _ uuid.UUID) (*models.AnalysisRun, error) {
	return nil, store.ErrNotFound
}
func (s *mockStore) ListRuns(_ context.Context, jobID uuid.UUID) ([]*models.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[jobID], nil
}

func (s *mockStore) addRun(jobID uuid.UUID, status models.RunStatus) *models.AnalysisRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &models.AnalysisRun{
		ID:           uuid.New(),
		JobID:        jobID,
		AttemptCount: len(s.runs[jobID]) + 1,
		Status:       status,
	}
	s.runs[jobID] = append(s.runs[jobID], run)
	return run
}
func (s *mockStore) RunErrorRate(_ context.Context, _ time.Time) (int, int, error) { return 0, 0, nil }
func (s *mockStore) CreateTraitResult(_ context.Context, _ *models.TraitResult) error {
	return nil
}
func (s *mockStore) GetTraitResultByJobID(_ context.Context, _ uuid.UUID) (*models.TraitResult, error) {
	return nil, store.ErrNotFound
}

func (s *mockStore) GetApprovalPolicy(_ context.Context) (*models.ApprovalPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, nil
}

func (s *mockStore) UpdateApprovalPolicy(_ context.Context, mode models.ApprovalMode, updatedBy string) (*models.ApprovalPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = &models.ApprovalPolicy{Mode: mode, UpdatedBy: updatedBy, UpdatedAt: time.Now()}
	return s.policy, nil
}

func (s *mockStore) AppendAdminAction(_ context.Context, action *models.AdminAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *mockStore) ListAdminActions(_ context.Context, targetType, targetID string) ([]*models.AdminAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AdminAction
	for _, a := range s.actions {
		if a.TargetType == targetType && a.TargetID == targetID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }

type mockCache struct {
	mu          sync.Mutex
	invalidated int
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) (int64, error)                { return 0, nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) Close() error                                                     { return nil }
func (c *mockCache) GetApprovalPolicy(_ context.Context) (*models.ApprovalPolicy, bool, error) {
	return nil, false, nil
}
func (c *mockCache) SetApprovalPolicy(_ context.Context, _ *models.ApprovalPolicy, _ time.Duration) error {
	return nil
}

func (c *mockCache) InvalidateApprovalPolicy(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return 1, nil
}

func (c *mockCache) SetJobStatus(_ context.Context, _ uuid.UUID, _ models.JobStatus, _ time.Duration) error {
	return nil
}
func (c *mockCache) GetJobStatus(_ context.Context, _ uuid.UUID) (models.JobStatus, bool, error) {
	return "", false, nil
}
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type mockEnqueuer struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (e *mockEnqueuer) EnqueueJob(_ context.Context, job *models.AnalysisJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.enqueued = append(e.enqueued, job.ID)
	return nil
}

func newTestService() (*Service, *mockStore, *mockCache, *mockEnqueuer) {
	st, ca, enq := newMockStore(), &mockCache{}, &mockEnqueuer{}
	return NewService(st, ca, enq), st, ca, enq
}

// --- tests ---

func TestApprove_ReleasesPendingJob(t *testing.T) {
	svc, st, _, enq := newTestService()
	job := st.addJob(models.JobStatusPendingApproval)

	approved, err := svc.Approve(context.Background(), job.ID, "admin-1", "looks fine")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusQueued, approved.Status)
	assert.Equal(t, []uuid.UUID{job.ID}, enq.enqueued)

	require.Len(t, st.actions, 1)
	assert.Equal(t, models.ActionApprove, st.actions[0].Action)
	assert.Equal(t, "admin-1", st.actions[0].Actor)
	assert.Equal(t, job.ID.String(), st.actions[0].TargetID)
}

func TestApprove_NonPendingJobConflicts(t *testing.T) {
	svc, st, _, enq := newTestService()
	job := st.addJob(models.JobStatusQueued)

	_, err := svc.Approve(context.Background(), job.ID, "admin-1", "")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, enq.enqueued)
	assert.Empty(t, st.actions, "conflicting action must not be audited")
}

func TestApprove_UnknownJob(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Approve(context.Background(), uuid.New(), "admin-1", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReject_FailsPendingJobWithoutEnqueue(t *testing.T) {
	svc, st, _, enq := newTestService()
	job := st.addJob(models.JobStatusPendingApproval)

	rejected, err := svc.Reject(context.Background(), job.ID, "admin-2", "policy breach")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, rejected.Status)
	assert.Empty(t, enq.enqueued)
	require.Len(t, st.actions, 1)
	assert.Equal(t, models.ActionReject, st.actions[0].Action)
	assert.Equal(t, "policy breach", st.actions[0].Reason)
}

func TestFlag_SuppressesWithoutTouchingStatus(t *testing.T) {
	svc, st, _, _ := newTestService()
	job := st.addJob(models.JobStatusSucceeded)

	flagged, err := svc.Flag(context.Background(), job.ID, "admin-1", "reported")
	require.NoError(t, err)

	assert.Equal(t, models.ModerationFlagged, flagged.ModerationStatus)
	assert.Equal(t, models.JobStatusSucceeded, flagged.Status, "processing status must not change")
	require.Len(t, st.actions, 1)
	assert.Equal(t, models.ActionFlag, st.actions[0].Action)
}

func TestRemove_SuppressesResults(t *testing.T) {
	svc, st, _, _ := newTestService()
	job := st.addJob(models.JobStatusSucceeded)

	removed, err := svc.Remove(context.Background(), job.ID, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModerationRemoved, removed.ModerationStatus)
}

func TestRerun_CreatesLinkedJobAndEnqueues(t *testing.T) {
	svc, st, _, enq := newTestService()
	source := st.addJob(models.JobStatusDeadLetter)

	rerun, err := svc.Rerun(context.Background(), source.ID, "admin-1", "provider outage over")
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, rerun.ID)
	require.NotNil(t, rerun.RerunOfJobID)
	assert.Equal(t, source.ID, *rerun.RerunOfJobID)
	assert.Equal(t, models.JobStatusQueued, rerun.Status)
	assert.Equal(t, models.ModerationNone, rerun.ModerationStatus)
	assert.Equal(t, source.RunType, rerun.RunType)
	assert.Equal(t, source.ImageID, rerun.ImageID)
	assert.JSONEq(t, string(source.SubmissionContext), string(rerun.SubmissionContext))
	assert.Equal(t, "admin-rerun", rerun.ModelSelectionSource)
	assert.NotEqual(t, source.IdempotencyKey, rerun.IdempotencyKey)

	assert.Equal(t, []uuid.UUID{rerun.ID}, enq.enqueued)
	assert.Equal(t, models.JobStatusDeadLetter, st.jobs[source.ID].Status, "source job is untouched")
}

func TestModeration_ReturnsTrailRunsAndReruns(t *testing.T) {
	svc, st, _, _ := newTestService()
	source := st.addJob(models.JobStatusDeadLetter)
	st.addRun(source.ID, models.RunStatusFailed)
	st.addRun(source.ID, models.RunStatusFailed)
	ctx := context.Background()

	_, err := svc.Flag(ctx, source.ID, "admin-1", "suspicious")
	require.NoError(t, err)
	rerun, err := svc.Rerun(ctx, source.ID, "admin-2", "retry after fix")
	require.NoError(t, err)

	view, err := svc.Moderation(ctx, source.ID)
	require.NoError(t, err)

	require.Len(t, view.Actions, 2)
	assert.Equal(t, models.ActionFlag, view.Actions[0].Action)
	assert.Equal(t, models.ActionRerun, view.Actions[1].Action)
	require.Len(t, view.Runs, 2, "attempt history must be part of the view")
	assert.Equal(t, 1, view.Runs[0].AttemptCount)
	assert.Equal(t, 2, view.Runs[1].AttemptCount)
	require.Len(t, view.RerunJobs, 1)
	assert.Equal(t, rerun.ID, view.RerunJobs[0].ID)
}

func TestSetPolicy_InvalidatesCacheAndAudits(t *testing.T) {
	svc, st, ca, _ := newTestService()

	view, inv, err := svc.SetPolicy(context.Background(), models.ApprovalModeManual, "admin-1", "tightening intake")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalModeManual, view.Policy.Mode)
	assert.Equal(t, "admin-1", view.Policy.UpdatedBy)
	assert.True(t, inv.Invalidated)
	assert.Equal(t, int64(1), inv.InvalidatedEntries)
	assert.Equal(t, 1, ca.invalidated)

	require.Len(t, view.Actions, 1)
	assert.Equal(t, models.ActionPolicyChange, view.Actions[0].Action)
	assert.Equal(t, models.ApprovalModeManual, st.policy.Mode)
}

func TestSetPolicy_RejectsUnknownMode(t *testing.T) {
	svc, _, ca, _ := newTestService()

	_, _, err := svc.SetPolicy(context.Background(), "whatever", "admin-1", "")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, ca.invalidated)
}

func TestGetPolicy_ReturnsHistory(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.SetPolicy(ctx, models.ApprovalModeManual, "admin-1", "first")
	require.NoError(t, err)
	_, _, err = svc.SetPolicy(ctx, models.ApprovalModeAuto, "admin-2", "second")
	require.NoError(t, err)

	view, err := svc.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeAuto, view.Policy.Mode)
	assert.Len(t, view.Actions, 2)
}
