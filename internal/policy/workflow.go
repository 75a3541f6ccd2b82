package policy

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hps-group/dealengine/internal/model"
)

// ErrRoleNotAllowed is returned when an identity without an authorized role
// attempts to decide an override.
var ErrRoleNotAllowed = eris.New("policy: role not authorized to decide overrides")

// DefaultApprovalRoles is the role set allowed to decide overrides when the
// org policy does not configure one.
var DefaultApprovalRoles = []string{"manager", "vp", "owner"}

// CanDecide reports whether role is in the allowed set. Comparison is
// case-insensitive. An empty allowed set falls back to DefaultApprovalRoles.
func CanDecide(role string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = DefaultApprovalRoles
	}
	for _, a := range allowed {
		if strings.EqualFold(role, a) {
			return true
		}
	}
	return false
}

// Decision is a request to resolve a pending override.
type Decision struct {
	OverrideID string
	Approve    bool
	DecidedBy  string
	Role       string
}

// ValidateDecision checks the authorization guard for a decision against
// the org's configured approval roles. The atomicity guard (only pending
// transitions, exactly once) lives in the store's DecideOverride.
func ValidateDecision(d Decision, allowedRoles []string) error {
	if d.OverrideID == "" {
		return eris.New("policy: override id is required")
	}
	if d.DecidedBy == "" {
		return eris.New("policy: decider identity is required")
	}
	if !CanDecide(d.Role, allowedRoles) {
		return eris.Wrapf(ErrRoleNotAllowed, "role %q", d.Role)
	}
	return nil
}

// NewOverrideRequest validates and shapes a proposed override.
func NewOverrideRequest(o model.PolicyOverride) (*model.PolicyOverride, error) {
	if o.OrgID == "" {
		return nil, eris.New("policy: override org_id is required")
	}
	if !model.ValidPosture(o.Posture) {
		return nil, eris.Errorf("policy: unknown posture %q", o.Posture)
	}
	if !KnownToken(o.TokenKey) {
		return nil, eris.Errorf("policy: unknown token %q", o.TokenKey)
	}
	if len(o.NewValue) == 0 {
		return nil, eris.New("policy: override new_value is required")
	}
	if strings.TrimSpace(o.Justification) == "" {
		return nil, eris.New("policy: override justification is required")
	}
	if o.RequestedBy == "" {
		return nil, eris.New("policy: override requester is required")
	}
	o.Status = model.OverrideStatusPending
	return &o, nil
}
