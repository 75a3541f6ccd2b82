package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hps-group/dealengine/internal/engine"
	"github.com/hps-group/dealengine/internal/envelope"
	"github.com/hps-group/dealengine/internal/model"
	"github.com/hps-group/dealengine/internal/policy"
	"github.com/hps-group/dealengine/internal/store"
)

var (
	analyzeDealPath   string
	analyzePosture    string
	analyzePolicyPath string
	analyzeOrg        string
	analyzeBy         string
	analyzeSave       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Underwrite a single deal",
	Long:  "Resolves org policy for the chosen posture, runs the underwriting engine over one deal file, and prints the result. With --save, the run is persisted idempotently.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		deal, err := loadDeal(analyzeDealPath)
		if err != nil {
			return err
		}
		defaults, err := loadPolicyDefaults()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		outcome, err := runAnalysis(ctx, st, defaults, analysisRequest{
			OrgID:   analyzeOrg,
			Posture: model.Posture(analyzePosture),
			Deal:    deal,
			By:      analyzeBy,
			Save:    analyzeSave,
		})
		if err != nil {
			return err
		}

		if outcome.Run != nil {
			zap.L().Info("run saved",
				zap.String("run_id", outcome.Run.ID),
				zap.String("input_hash", outcome.Run.InputHash),
				zap.Bool("deduped", outcome.Deduped),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome.Result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDealPath, "deal", "", "path to deal JSON file (required)")
	analyzeCmd.Flags().StringVar(&analyzePosture, "posture", string(model.PostureBase), "underwriting posture (conservative, base, aggressive)")
	analyzeCmd.Flags().StringVar(&analyzePolicyPath, "policy", "", "path to policy defaults YAML (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeOrg, "org", "", "org ID (default from deal or policy document)")
	analyzeCmd.Flags().StringVar(&analyzeBy, "by", "cli", "identity recorded as run creator")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "persist the run")
	_ = analyzeCmd.MarkFlagRequired("deal")
	rootCmd.AddCommand(analyzeCmd)
}

// loadDeal reads a deal document from a JSON file.
func loadDeal(path string) (*model.Deal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read deal %s", path)
	}
	var deal model.Deal
	if err := json.Unmarshal(data, &deal); err != nil {
		return nil, eris.Wrapf(err, "parse deal %s", path)
	}
	return &deal, nil
}

// loadPolicyDefaults reads the org policy document, preferring the --policy
// flag over the configured path.
func loadPolicyDefaults() (*model.PolicyDefaults, error) {
	path := analyzePolicyPath
	if path == "" {
		path = cfg.Policy.DefaultsPath
	}
	return policy.LoadDefaults(path)
}

// analysisRequest carries one underwriting invocation's identity and inputs.
type analysisRequest struct {
	OrgID   string
	Posture model.Posture
	Deal    *model.Deal
	By      string
	Save    bool
	Source  string
}

// analysisOutcome bundles the engine result with the persisted row, if any.
type analysisOutcome struct {
	Result  *engine.Result
	Policy  *model.ResolvedPolicy
	Run     *model.RunRow
	Deduped bool
}

// runAnalysis resolves policy (including approved overrides from the store),
// runs the engine, and optionally persists the run envelope.
func runAnalysis(ctx context.Context, st store.Store, defaults *model.PolicyDefaults, req analysisRequest) (*analysisOutcome, error) {
	orgID := req.OrgID
	if orgID == "" {
		orgID = req.Deal.OrgID
	}
	if orgID == "" {
		orgID = defaults.OrgID
	}
	if orgID == "" {
		return nil, eris.New("org ID is required (flag, deal, or policy document)")
	}

	overrides, err := st.ListOverrides(ctx, store.OverrideFilter{
		OrgID:   orgID,
		Posture: req.Posture,
		Status:  model.OverrideStatusApproved,
	})
	if err != nil {
		return nil, eris.Wrap(err, "list approved overrides")
	}

	resolved, err := policy.Resolve(defaults, req.Posture, overrides, policy.ResolveOptions{})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := engine.ComputeUnderwriting(req.Deal, resolved)
	elapsed := time.Since(start)

	outcome := &analysisOutcome{Result: result, Policy: resolved}
	if !req.Save {
		return outcome, nil
	}

	dealID := req.Deal.ID
	if dealID == "" {
		dealID = "adhoc"
	}
	source := req.Source
	if source == "" {
		source = "cli"
	}
	row, err := envelope.BuildRunRow(envelope.SaveRunArgs{
		OrgID:      orgID,
		DealID:     dealID,
		Posture:    req.Posture,
		Deal:       req.Deal,
		Outputs:    result.Outputs,
		Trace:      result.Trace,
		InfoNeeded: result.InfoNeeded,
		Meta: model.RunMeta{
			EngineVersion: engine.Version,
			PolicyVersion: resolved.Version,
			Source:        source,
			DurationMs:    elapsed.Milliseconds(),
		},
		PolicySnapshot: resolved,
	}, req.By)
	if err != nil {
		return nil, err
	}

	saved, err := st.SaveRun(ctx, row)
	if err != nil {
		return nil, eris.Wrap(err, "save run")
	}
	outcome.Run = saved.Run
	outcome.Deduped = saved.Deduped
	return outcome, nil
}
