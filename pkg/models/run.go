package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the outcome of a single execution attempt.
type RunStatus string

const (
	// RunStatusRunning marks an attempt that has been claimed but not finished.
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// AnalysisRun is one execution attempt of a job. Attempt numbers are
// strictly increasing per job; the run history is append-only and retains
// every failure even when a later attempt succeeds.
type AnalysisRun struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	JobID            uuid.UUID  `db:"job_id"             json:"job_id"`
	AttemptCount     int        `db:"attempt_count"      json:"attempt_count"`
	Status           RunStatus  `db:"status"             json:"status"`
	StartedAt        time.Time  `db:"started_at"         json:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"       json:"completed_at,omitempty"`
	LastErrorCode    *string    `db:"last_error_code"    json:"last_error_code,omitempty"`
	LastErrorMessage *string    `db:"last_error_message" json:"last_error_message,omitempty"`
}
