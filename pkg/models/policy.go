package models

import "time"

// ApprovalMode gates whether new submissions require manual admin sign-off.
type ApprovalMode string

const (
	ApprovalModeAuto   ApprovalMode = "auto-approve"
	ApprovalModeManual ApprovalMode = "manual"
)

// Valid reports whether m is a recognized approval mode.
func (m ApprovalMode) Valid() bool {
	return m == ApprovalModeAuto || m == ApprovalModeManual
}

// ApprovalPolicy is the single global admission-control record. It is read
// fresh on every submission and mutated only by administrator actions.
type ApprovalPolicy struct {
	Mode      ApprovalMode `db:"approval_mode" json:"approval_mode"`
	UpdatedBy string       `db:"updated_by"    json:"updated_by"`
	UpdatedAt time.Time    `db:"updated_at"    json:"updated_at"`
}
