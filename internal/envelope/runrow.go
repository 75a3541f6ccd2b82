package envelope

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/hps-group/dealengine/internal/model"
)

// SaveRunArgs carries everything needed to persist one engine invocation.
type SaveRunArgs struct {
	OrgID          string             `json:"org_id"`
	DealID         string             `json:"deal_id"`
	Posture        model.Posture      `json:"posture"`
	Deal           any                `json:"deal"`
	Sandbox        any                `json:"sandbox,omitempty"`
	Outputs        any                `json:"outputs"`
	Trace          []model.TraceFrame `json:"trace"`
	InfoNeeded     []model.InfoNeeded `json:"info_needed,omitempty"`
	Meta           model.RunMeta      `json:"meta"`
	PolicySnapshot any                `json:"policy_snapshot,omitempty"`
}

func (a *SaveRunArgs) validate() error {
	if a.OrgID == "" {
		return eris.New("envelope: org_id is required")
	}
	if a.DealID == "" {
		return eris.New("envelope: deal_id is required")
	}
	if !model.ValidPosture(a.Posture) {
		return eris.Errorf("envelope: unknown posture %q", a.Posture)
	}
	return nil
}

// BuildRunRow assembles the input/output envelopes from args, hashes each
// canonical blob independently, and returns a row ready for Store.SaveRun.
// The row's dedupe identity is (org, posture, input_hash, policy_hash).
func BuildRunRow(args SaveRunArgs, createdBy string) (*model.RunRow, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	if createdBy == "" {
		return nil, eris.New("envelope: createdBy is required")
	}

	input := model.RunInput{
		DealID:  args.DealID,
		Posture: args.Posture,
		Deal:    args.Deal,
		Sandbox: args.Sandbox,
		Meta: model.RunMeta{
			EngineVersion: args.Meta.EngineVersion,
			PolicyVersion: args.Meta.PolicyVersion,
			Source:        orUnknown(args.Meta.Source),
		},
	}
	output := model.RunOutput{
		Trace:      args.Trace,
		Outputs:    args.Outputs,
		InfoNeeded: args.InfoNeeded,
		Meta: model.RunMeta{
			EngineVersion: args.Meta.EngineVersion,
			PolicyVersion: args.Meta.PolicyVersion,
			DurationMs:    args.Meta.DurationMs,
		},
	}

	inputHash, err := HashJSON(input)
	if err != nil {
		return nil, eris.Wrap(err, "envelope: hash input")
	}
	outputHash, err := HashJSON(output)
	if err != nil {
		return nil, eris.Wrap(err, "envelope: hash output")
	}

	row := &model.RunRow{
		OrgID:      args.OrgID,
		Posture:    args.Posture,
		DealID:     args.DealID,
		Input:      input,
		Output:     output,
		InputHash:  inputHash,
		OutputHash: outputHash,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC(),
	}

	if args.PolicySnapshot != nil {
		row.PolicySnapshot = args.PolicySnapshot
		policyHash, err := HashJSON(args.PolicySnapshot)
		if err != nil {
			return nil, eris.Wrap(err, "envelope: hash policy snapshot")
		}
		row.PolicyHash = policyHash
	}

	return row, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
