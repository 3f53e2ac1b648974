package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the processing state of an AnalysisJob.
type JobStatus string

const (
	JobStatusPendingApproval JobStatus = "pending_approval"
	JobStatusQueued          JobStatus = "queued"
	JobStatusInProgress      JobStatus = "in_progress"
	JobStatusRetrying        JobStatus = "retrying"
	JobStatusSucceeded       JobStatus = "succeeded"
	JobStatusFailed          JobStatus = "failed"
	JobStatusDeadLetter      JobStatus = "dead_letter"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusDeadLetter
}

// RunType identifies what kind of analysis a job performs.
type RunType string

const (
	RunTypeTrait          RunType = "trait"
	RunTypeRecommendation RunType = "recommendation"
	RunTypeAlignment      RunType = "alignment"
)

// ModerationStatus is an admin-controlled visibility flag on a job,
// orthogonal to its processing status.
type ModerationStatus string

const (
	ModerationNone    ModerationStatus = "none"
	ModerationFlagged ModerationStatus = "flagged"
	ModerationRemoved ModerationStatus = "removed"
)

// Suppressed reports whether results for a job with this moderation status
// are hidden from ordinary callers.
func (m ModerationStatus) Suppressed() bool {
	return m == ModerationFlagged || m == ModerationRemoved
}

// AnalysisJob is a unit of requested analysis work. Submissions are
// deduplicated by idempotency key: resubmitting the same key returns the
// existing job instead of creating a second one.
type AnalysisJob struct {
	ID                   uuid.UUID        `db:"id"                     json:"id"`
	IdempotencyKey       string           `db:"idempotency_key"        json:"idempotency_key"`
	RunType              RunType          `db:"run_type"               json:"run_type"`
	ImageID              string           `db:"image_id"               json:"image_id"`
	Status               JobStatus        `db:"status"                 json:"status"`
	ModerationStatus     ModerationStatus `db:"moderation_status"      json:"moderation_status"`
	RerunOfJobID         *uuid.UUID       `db:"rerun_of_job_id"        json:"rerun_of_job_id,omitempty"`
	SubmissionContext    json.RawMessage  `db:"submission_context"     json:"submission_context,omitempty"`
	ModelFamily          string           `db:"model_family"           json:"model_family"`
	ModelVersion         string           `db:"model_version"          json:"model_version"`
	ModelSelectionSource string           `db:"model_selection_source" json:"model_selection_source"`
	SubmittedAt          time.Time        `db:"submitted_at"           json:"submitted_at"`
	UpdatedAt            time.Time        `db:"updated_at"             json:"updated_at"`
}
