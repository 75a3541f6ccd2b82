package model

import "time"

// SourceOfTruth names who is responsible for supplying a missing input.
type SourceOfTruth string

const (
	SourceInvestorSet   SourceOfTruth = "investor_set"
	SourceTeamPolicySet SourceOfTruth = "team_policy_set"
	SourceExternalFeed  SourceOfTruth = "external_feed"
	SourceUnknown       SourceOfTruth = "unknown"
)

// InfoNeeded describes one missing input discovered during a run. The run
// still completes with partial outputs; these entries tell a human what to
// supply and who owns supplying it.
type InfoNeeded struct {
	Path          string        `json:"path"`
	Token         string        `json:"token,omitempty"`
	Reason        string        `json:"reason"`
	SourceOfTruth SourceOfTruth `json:"source_of_truth,omitempty"`
}

// TraceFrame is one named rule's provenance record: what it consumed and
// what it produced. Frames are append-only during a run and immutable after.
type TraceFrame struct {
	Rule    string         `json:"rule"`
	Used    []string       `json:"used"`
	Details map[string]any `json:"details,omitempty"`
}

// RunMeta carries engine/policy version stamps through the envelopes.
type RunMeta struct {
	EngineVersion string `json:"engine_version,omitempty"`
	PolicyVersion string `json:"policy_version,omitempty"`
	Source        string `json:"source,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// RunInput is the canonicalized input envelope of one engine invocation.
type RunInput struct {
	DealID  string  `json:"deal_id"`
	Posture Posture `json:"posture"`
	Deal    any     `json:"deal"`
	Sandbox any     `json:"sandbox,omitempty"`
	Meta    RunMeta `json:"meta"`
}

// RunOutput is the canonicalized output envelope of one engine invocation.
type RunOutput struct {
	Trace      []TraceFrame `json:"trace"`
	Outputs    any          `json:"outputs,omitempty"`
	InfoNeeded []InfoNeeded `json:"info_needed,omitempty"`
	Meta       RunMeta      `json:"meta"`
}

// RunRow is the persisted, content-addressed record of one engine run.
// Identity for dedupe is (org_id, posture, input_hash, policy_hash); a
// second save of the same tuple returns the existing row.
type RunRow struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	Posture        Posture   `json:"posture"`
	DealID         string    `json:"deal_id"`
	Input          RunInput  `json:"input"`
	Output         RunOutput `json:"output"`
	PolicySnapshot any       `json:"policy_snapshot,omitempty"`
	InputHash      string    `json:"input_hash"`
	OutputHash     string    `json:"output_hash"`
	PolicyHash     string    `json:"policy_hash,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}
