package models

import "fmt"

// InvalidTransitionError is returned when a job status change is not
// permitted by the transition table.
type InvalidTransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition: %s -> %s", e.From, e.To)
}

// jobTransitions is the exhaustive transition table for AnalysisJob.Status.
// Terminal states have no entries. "failed" is reachable from
// pending_approval (admin rejection) and from in_progress (non-retryable
// inference error).
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPendingApproval: {JobStatusQueued, JobStatusFailed},
	JobStatusQueued:          {JobStatusInProgress},
	JobStatusInProgress:      {JobStatusSucceeded, JobStatusRetrying, JobStatusDeadLetter, JobStatusFailed},
	JobStatusRetrying:        {JobStatusInProgress},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a status change, returning an InvalidTransitionError
// if the transition table does not permit it.
func Transition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
