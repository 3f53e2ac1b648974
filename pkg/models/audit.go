package models

import (
	"time"

	"github.com/google/uuid"
)

// Admin action kinds recorded in the audit log.
const (
	ActionApprove      = "approve"
	ActionReject       = "reject"
	ActionFlag         = "flag"
	ActionRemove       = "remove"
	ActionRerun        = "re-run"
	ActionPolicyChange = "policy_change"
)

// AdminAction is an append-only audit record of an administrator action.
// Rows are never mutated or deleted.
type AdminAction struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	Action     string    `db:"action"      json:"action"`
	TargetType string    `db:"target_type" json:"target_type"`
	TargetID   string    `db:"target_id"   json:"target_id"`
	Reason     string    `db:"reason"      json:"reason"`
	Actor      string    `db:"actor"       json:"actor"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
