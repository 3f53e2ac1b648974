package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

// EnvelopeSchemaVersion is bumped whenever the envelope shape changes.
const EnvelopeSchemaVersion = 1

// JobEnvelope is the serialized body of a queue message. It round-trips
// losslessly through enqueue/poll; unknown future fields are preserved by
// consumers ignoring them rather than failing.
type JobEnvelope struct {
	SchemaVersion int            `json:"schema_version"`
	JobID         uuid.UUID      `json:"job_id"`
	RunType       models.RunType `json:"run_type"`
	ImageID       string         `json:"image_id"`
	Context       map[string]any `json:"context,omitempty"`
}

// NewJobEnvelope builds an envelope for a job at the current schema version.
func NewJobEnvelope(job *models.AnalysisJob, jobContext map[string]any) JobEnvelope {
	return JobEnvelope{
		SchemaVersion: EnvelopeSchemaVersion,
		JobID:         job.ID,
		RunType:       job.RunType,
		ImageID:       job.ImageID,
		Context:       jobContext,
	}
}

// Encode serializes the envelope for transport.
func (e JobEnvelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode job envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a message body back into an envelope.
func DecodeEnvelope(body []byte) (JobEnvelope, error) {
	var e JobEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return JobEnvelope{}, fmt.Errorf("decode job envelope: %w", err)
	}
	if e.SchemaVersion == 0 || e.JobID == uuid.Nil {
		return JobEnvelope{}, fmt.Errorf("decode job envelope: missing schema_version or job_id")
	}
	return e, nil
}
