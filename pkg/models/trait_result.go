package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TraitResult holds the analysis output produced by a successful run:
// a style trait vector plus free-form attributes from the provider.
type TraitResult struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	JobID       uuid.UUID       `db:"job_id"       json:"job_id"`
	RunID       uuid.UUID       `db:"run_id"       json:"run_id"`
	ImageID     string          `db:"image_id"     json:"image_id"`
	Provider    string          `db:"provider"     json:"provider"`
	Model       string          `db:"model"        json:"model"`
	TraitVector []float64       `db:"trait_vector" json:"trait_vector"`
	Attributes  json.RawMessage `db:"attributes"   json:"attributes,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
}
