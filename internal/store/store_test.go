package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hps-group/dealengine/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestMemory(t *testing.T) Store {
	t.Helper()
	s := NewMemory()
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testRunRow(dealID, inputHash string) *model.RunRow {
	return &model.RunRow{
		OrgID:   "org-1",
		Posture: model.PostureBase,
		DealID:  dealID,
		Input: model.RunInput{
			DealID:  dealID,
			Posture: model.PostureBase,
			Deal:    map[string]any{"aiv": 300000.0},
			Meta:    model.RunMeta{EngineVersion: "1.4.0", Source: "test"},
		},
		Output: model.RunOutput{
			Trace:   []model.TraceFrame{{Rule: "AIV_SAFETY_CAP", Used: []string{"aiv"}}},
			Outputs: map[string]any{"mao": 246000.0},
			Meta:    model.RunMeta{EngineVersion: "1.4.0"},
		},
		InputHash:  inputHash,
		OutputHash: "out-" + inputHash,
		PolicyHash: "policy-abc",
		CreatedBy:  "analyst@example.com",
	}
}

func testOverride(tokenKey string) *model.PolicyOverride {
	return &model.PolicyOverride{
		OrgID:         "org-1",
		Posture:       model.PostureBase,
		TokenKey:      tokenKey,
		OldValue:      json.RawMessage(`0.97`),
		NewValue:      json.RawMessage(`0.95`),
		Justification: "tighter cap for hurricane season exposure",
		RequestedBy:   "analyst@example.com",
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		res, err := s.SaveRun(ctx, testRunRow("deal-1", "hash-1"))
		require.NoError(t, err)
		assert.False(t, res.Deduped)
		assert.NotEmpty(t, res.Run.ID)
		assert.False(t, res.Run.CreatedAt.IsZero())

		got, err := s.GetRun(ctx, res.Run.ID)
		require.NoError(t, err)
		assert.Equal(t, "deal-1", got.DealID)
		assert.Equal(t, "hash-1", got.InputHash)
		assert.Equal(t, "policy-abc", got.PolicyHash)
		assert.Equal(t, model.PostureBase, got.Posture)
		assert.Len(t, got.Output.Trace, 1)
		assert.Equal(t, "AIV_SAFETY_CAP", got.Output.Trace[0].Rule)
	})

	t.Run("SaveRunIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.SaveRun(ctx, testRunRow("deal-1", "hash-1"))
		require.NoError(t, err)
		require.False(t, first.Deduped)

		second, err := s.SaveRun(ctx, testRunRow("deal-1", "hash-1"))
		require.NoError(t, err)
		assert.True(t, second.Deduped)
		assert.Equal(t, first.Run.ID, second.Run.ID)

		runs, err := s.ListRuns(ctx, RunFilter{OrgID: "org-1"})
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("SaveRunDistinctHashes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.SaveRun(ctx, testRunRow("deal-1", "hash-1"))
		require.NoError(t, err)

		second, err := s.SaveRun(ctx, testRunRow("deal-1", "hash-2"))
		require.NoError(t, err)
		assert.False(t, second.Deduped)
		assert.NotEqual(t, first.Run.ID, second.Run.ID)
	})

	t.Run("SaveRunPolicyHashInIdentity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.SaveRun(ctx, testRunRow("deal-1", "hash-1"))
		require.NoError(t, err)

		other := testRunRow("deal-1", "hash-1")
		other.PolicyHash = "policy-xyz"
		res, err := s.SaveRun(ctx, other)
		require.NoError(t, err)
		assert.False(t, res.Deduped, "same input under a different policy is a new run")
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetRun(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListRunsFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			row := testRunRow(fmt.Sprintf("deal-%d", i), fmt.Sprintf("hash-%d", i))
			row.CreatedAt = time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC)
			_, err := s.SaveRun(ctx, row)
			require.NoError(t, err)
		}
		aggr := testRunRow("deal-aggr", "hash-aggr")
		aggr.Posture = model.PostureAggressive
		aggr.Input.Posture = model.PostureAggressive
		_, err := s.SaveRun(ctx, aggr)
		require.NoError(t, err)

		all, err := s.ListRuns(ctx, RunFilter{OrgID: "org-1"})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		base, err := s.ListRuns(ctx, RunFilter{OrgID: "org-1", Posture: model.PostureBase})
		require.NoError(t, err)
		assert.Len(t, base, 3)
		// newest first
		assert.Equal(t, "deal-2", base[0].DealID)

		byDeal, err := s.ListRuns(ctx, RunFilter{DealID: "deal-1"})
		require.NoError(t, err)
		require.Len(t, byDeal, 1)
		assert.Equal(t, "hash-1", byDeal[0].InputHash)

		limited, err := s.ListRuns(ctx, RunFilter{OrgID: "org-1", Posture: model.PostureBase, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		paged, err := s.ListRuns(ctx, RunFilter{OrgID: "org-1", Posture: model.PostureBase, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, "deal-0", paged[0].DealID)

		none, err := s.ListRuns(ctx, RunFilter{OrgID: "org-other"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("CreateAndGetOverride", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o, err := s.CreateOverride(ctx, testOverride("aiv_cap_pct"))
		require.NoError(t, err)
		assert.NotEmpty(t, o.ID)
		assert.Equal(t, model.OverrideStatusPending, o.Status)
		assert.False(t, o.CreatedAt.IsZero())

		got, err := s.GetOverride(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "aiv_cap_pct", got.TokenKey)
		assert.JSONEq(t, `0.95`, string(got.NewValue))
		assert.JSONEq(t, `0.97`, string(got.OldValue))
		assert.Nil(t, got.DecidedAt)
	})

	t.Run("DecideOverrideApprove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o, err := s.CreateOverride(ctx, testOverride("aiv_cap_pct"))
		require.NoError(t, err)

		decided, err := s.DecideOverride(ctx, o.ID, model.OverrideStatusApproved, "manager@example.com")
		require.NoError(t, err)
		assert.Equal(t, model.OverrideStatusApproved, decided.Status)
		assert.Equal(t, "manager@example.com", decided.DecidedBy)
		require.NotNil(t, decided.DecidedAt)
	})

	t.Run("DecideOverrideOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o, err := s.CreateOverride(ctx, testOverride("aiv_cap_pct"))
		require.NoError(t, err)

		_, err = s.DecideOverride(ctx, o.ID, model.OverrideStatusApproved, "manager@example.com")
		require.NoError(t, err)

		_, err = s.DecideOverride(ctx, o.ID, model.OverrideStatusRejected, "director@example.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAlreadyDecided)

		// First decision sticks.
		got, err := s.GetOverride(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OverrideStatusApproved, got.Status)
		assert.Equal(t, "manager@example.com", got.DecidedBy)
	})

	t.Run("DecideOverrideNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.DecideOverride(context.Background(), "nonexistent", model.OverrideStatusApproved, "manager@example.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DecideOverrideRejectsNonTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o, err := s.CreateOverride(ctx, testOverride("aiv_cap_pct"))
		require.NoError(t, err)

		_, err = s.DecideOverride(ctx, o.ID, model.OverrideStatusPending, "manager@example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "terminal")
	})

	t.Run("ListOverridesByStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateOverride(ctx, testOverride("aiv_cap_pct"))
		require.NoError(t, err)
		_, err = s.CreateOverride(ctx, testOverride("flip_margin_pct"))
		require.NoError(t, err)

		_, err = s.DecideOverride(ctx, a.ID, model.OverrideStatusApproved, "manager@example.com")
		require.NoError(t, err)

		pending, err := s.ListOverrides(ctx, OverrideFilter{OrgID: "org-1", Status: model.OverrideStatusPending})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "flip_margin_pct", pending[0].TokenKey)

		approved, err := s.ListOverrides(ctx, OverrideFilter{OrgID: "org-1", Status: model.OverrideStatusApproved})
		require.NoError(t, err)
		require.Len(t, approved, 1)
		assert.Equal(t, "aiv_cap_pct", approved[0].TokenKey)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTestSuite(t, newTestMemory)
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestIsSQLiteUniqueViolation(t *testing.T) {
	assert.False(t, isSQLiteUniqueViolation(nil))
	assert.False(t, isSQLiteUniqueViolation(errors.New("disk I/O error")))
	assert.True(t, isSQLiteUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: runs.org_id (2067)")))
}
