package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hps-group/dealengine/internal/model"
)

func TestCanDecide(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		allowed []string
		want    bool
	}{
		{"exact match", "manager", []string{"manager", "vp"}, true},
		{"case insensitive", "Manager", []string{"manager"}, true},
		{"not in set", "analyst", []string{"manager", "vp"}, false},
		{"empty role", "", []string{"manager"}, false},
		{"fallback to defaults", "owner", nil, true},
		{"fallback rejects analyst", "analyst", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanDecide(tt.role, tt.allowed))
		})
	}
}

func TestValidateDecision(t *testing.T) {
	valid := Decision{OverrideID: "ovr-1", Approve: true, DecidedBy: "mia@example.com", Role: "manager"}

	require.NoError(t, ValidateDecision(valid, nil))

	missing := valid
	missing.OverrideID = ""
	require.Error(t, ValidateDecision(missing, nil))

	anon := valid
	anon.DecidedBy = ""
	require.Error(t, ValidateDecision(anon, nil))

	unauthorized := valid
	unauthorized.Role = "analyst"
	err := ValidateDecision(unauthorized, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	// Custom role set replaces the default one entirely.
	require.NoError(t, ValidateDecision(unauthorized, []string{"analyst"}))
	assert.Error(t, ValidateDecision(valid, []string{"analyst"}))
}

func validOverride() model.PolicyOverride {
	return model.PolicyOverride{
		OrgID:         "org-1",
		Posture:       model.PostureBase,
		TokenKey:      "aiv_cap_pct",
		NewValue:      json.RawMessage(`0.95`),
		Justification: "storm exposure in this zip",
		RequestedBy:   "analyst@example.com",
	}
}

func TestNewOverrideRequest(t *testing.T) {
	o, err := NewOverrideRequest(validOverride())
	require.NoError(t, err)
	assert.Equal(t, model.OverrideStatusPending, o.Status)
}

func TestNewOverrideRequest_ForcesPending(t *testing.T) {
	in := validOverride()
	in.Status = model.OverrideStatusApproved

	o, err := NewOverrideRequest(in)
	require.NoError(t, err)
	assert.Equal(t, model.OverrideStatusPending, o.Status, "a request can never arrive pre-approved")
}

func TestNewOverrideRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.PolicyOverride)
		wantErr string
	}{
		{"missing org", func(o *model.PolicyOverride) { o.OrgID = "" }, "org_id"},
		{"bad posture", func(o *model.PolicyOverride) { o.Posture = "reckless" }, "posture"},
		{"unknown token", func(o *model.PolicyOverride) { o.TokenKey = "made_up" }, "unknown token"},
		{"missing value", func(o *model.PolicyOverride) { o.NewValue = nil }, "new_value"},
		{"blank justification", func(o *model.PolicyOverride) { o.Justification = "   " }, "justification"},
		{"missing requester", func(o *model.PolicyOverride) { o.RequestedBy = "" }, "requester"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOverride()
			tt.mutate(&o)
			_, err := NewOverrideRequest(o)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
