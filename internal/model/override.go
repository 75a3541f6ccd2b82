package model

import (
	"encoding/json"
	"time"
)

// OverrideStatus is the lifecycle state of a policy override request.
// pending is the only non-terminal state.
type OverrideStatus string

const (
	OverrideStatusPending  OverrideStatus = "pending"
	OverrideStatusApproved OverrideStatus = "approved"
	OverrideStatusRejected OverrideStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s OverrideStatus) Terminal() bool {
	return s == OverrideStatusApproved || s == OverrideStatusRejected
}

// PolicyOverride is a governed deviation from a policy token's default
// value. It participates in policy resolution only once approved; pending
// and rejected overrides remain visible for audit but are inert.
type PolicyOverride struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"org_id"`
	Posture       Posture         `json:"posture"`
	TokenKey      string          `json:"token_key"`
	OldValue      json.RawMessage `json:"old_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value"`
	RunID         string          `json:"run_id,omitempty"` // optional scope to a single run
	Justification string          `json:"justification"`
	RequestedBy   string          `json:"requested_by"`
	Status        OverrideStatus  `json:"status"`
	DecidedBy     string          `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AppliesTo reports whether the override is active for the given
// org/posture/run combination. Run-scoped overrides match only their run;
// unscoped overrides match any run.
func (o *PolicyOverride) AppliesTo(orgID string, posture Posture, runID string) bool {
	if o.Status != OverrideStatusApproved {
		return false
	}
	if o.OrgID != orgID || o.Posture != posture {
		return false
	}
	return o.RunID == "" || o.RunID == runID
}
