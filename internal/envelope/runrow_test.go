package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hps-group/dealengine/internal/model"
)

func validArgs() SaveRunArgs {
	return SaveRunArgs{
		OrgID:   "org-1",
		DealID:  "deal-1",
		Posture: model.PostureBase,
		Deal:    map[string]any{"aiv": 300000.0, "arv": 390000.0},
		Outputs: map[string]any{"mao": 246000.0},
		Trace:   []model.TraceFrame{{Rule: "MAO_CLAMP", Used: []string{"respect_floor"}}},
		Meta:    model.RunMeta{EngineVersion: "1.4.0", PolicyVersion: "2026-08", Source: "cli"},
	}
}

func TestBuildRunRow(t *testing.T) {
	row, err := BuildRunRow(validArgs(), "analyst@example.com")
	require.NoError(t, err)

	assert.Equal(t, "org-1", row.OrgID)
	assert.Equal(t, "deal-1", row.DealID)
	assert.Equal(t, model.PostureBase, row.Posture)
	assert.Equal(t, "analyst@example.com", row.CreatedBy)
	assert.False(t, row.CreatedAt.IsZero())
	assert.Len(t, row.InputHash, 8)
	assert.Len(t, row.OutputHash, 8)
	assert.NotEqual(t, row.InputHash, row.OutputHash)
	assert.Empty(t, row.PolicyHash, "no snapshot means no policy hash")
	assert.Equal(t, "cli", row.Input.Meta.Source)
}

func TestBuildRunRow_PolicySnapshotHashed(t *testing.T) {
	args := validArgs()
	args.PolicySnapshot = map[string]any{"aiv_cap_pct": 0.97}

	row, err := BuildRunRow(args, "analyst@example.com")
	require.NoError(t, err)
	assert.NotNil(t, row.PolicySnapshot)
	assert.Len(t, row.PolicyHash, 8)
}

func TestBuildRunRow_HashesStableAcrossCalls(t *testing.T) {
	first, err := BuildRunRow(validArgs(), "analyst@example.com")
	require.NoError(t, err)
	second, err := BuildRunRow(validArgs(), "other@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.InputHash, second.InputHash)
	assert.Equal(t, first.OutputHash, second.OutputHash)
}

func TestBuildRunRow_InputHashIgnoresOutputs(t *testing.T) {
	args := validArgs()
	base, err := BuildRunRow(args, "analyst@example.com")
	require.NoError(t, err)

	args.Outputs = map[string]any{"mao": 999.0}
	changed, err := BuildRunRow(args, "analyst@example.com")
	require.NoError(t, err)

	assert.Equal(t, base.InputHash, changed.InputHash)
	assert.NotEqual(t, base.OutputHash, changed.OutputHash)
}

func TestBuildRunRow_DefaultsSourceUnknown(t *testing.T) {
	args := validArgs()
	args.Meta.Source = ""

	row, err := BuildRunRow(args, "analyst@example.com")
	require.NoError(t, err)
	assert.Equal(t, "unknown", row.Input.Meta.Source)
}

func TestBuildRunRow_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*SaveRunArgs)
		createdBy string
		wantErr   string
	}{
		{"missing org", func(a *SaveRunArgs) { a.OrgID = "" }, "x", "org_id"},
		{"missing deal", func(a *SaveRunArgs) { a.DealID = "" }, "x", "deal_id"},
		{"bad posture", func(a *SaveRunArgs) { a.Posture = "reckless" }, "x", "posture"},
		{"missing createdBy", func(a *SaveRunArgs) {}, "", "createdBy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := validArgs()
			tt.mutate(&args)
			_, err := BuildRunRow(args, tt.createdBy)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
