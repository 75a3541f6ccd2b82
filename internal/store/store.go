package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/hps-group/dealengine/internal/model"
)

// ErrNotFound is returned when a run or override does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrAlreadyDecided is returned when deciding an override that has already
// left the pending state.
var ErrAlreadyDecided = eris.New("store: override already decided")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	OrgID   string        `json:"org_id,omitempty"`
	Posture model.Posture `json:"posture,omitempty"`
	DealID  string        `json:"deal_id,omitempty"`
	Limit   int           `json:"limit,omitempty"`
	Offset  int           `json:"offset,omitempty"`
}

// OverrideFilter specifies criteria for listing policy overrides.
type OverrideFilter struct {
	OrgID   string               `json:"org_id,omitempty"`
	Posture model.Posture        `json:"posture,omitempty"`
	Status  model.OverrideStatus `json:"status,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
	Offset  int                  `json:"offset,omitempty"`
}

// SaveRunResult reports the outcome of an idempotent SaveRun. When Deduped
// is true, Run is the previously stored row for the same
// (org, posture, input_hash, policy_hash) identity and nothing was written.
type SaveRunResult struct {
	Run     *model.RunRow `json:"run"`
	Deduped bool          `json:"deduped"`
}

// Store defines the persistence interface for the underwriting engine.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, row *model.RunRow) (*SaveRunResult, error)
	GetRun(ctx context.Context, runID string) (*model.RunRow, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRow, error)

	// Policy overrides
	CreateOverride(ctx context.Context, o *model.PolicyOverride) (*model.PolicyOverride, error)
	GetOverride(ctx context.Context, id string) (*model.PolicyOverride, error)
	ListOverrides(ctx context.Context, filter OverrideFilter) ([]model.PolicyOverride, error)
	DecideOverride(ctx context.Context, id string, status model.OverrideStatus, decidedBy string) (*model.PolicyOverride, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
