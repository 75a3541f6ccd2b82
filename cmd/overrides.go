package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hps-group/dealengine/internal/model"
	"github.com/hps-group/dealengine/internal/policy"
	"github.com/hps-group/dealengine/internal/store"
)

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Manage policy override requests",
	Long:  "Request, list, and decide governed deviations from policy token defaults. Overrides participate in resolution only once approved.",
}

var (
	overrideToken         string
	overrideValue         string
	overrideRun           string
	overrideJustification string
	overrideOrg           string
	overridePosture       string
	overrideBy            string
)

var overridesRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a policy override",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("overrides"); err != nil {
			return err
		}

		org := overrideOrg
		if org == "" {
			defaults, err := loadPolicyDefaults()
			if err != nil {
				return err
			}
			org = defaults.OrgID
		}

		req, err := policy.NewOverrideRequest(model.PolicyOverride{
			OrgID:         org,
			Posture:       model.Posture(overridePosture),
			TokenKey:      overrideToken,
			NewValue:      json.RawMessage(overrideValue),
			RunID:         overrideRun,
			Justification: overrideJustification,
			RequestedBy:   overrideBy,
		})
		if err != nil {
			return err
		}
		if !json.Valid(req.NewValue) {
			return eris.Errorf("override value is not valid JSON: %s", overrideValue)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		created, err := st.CreateOverride(ctx, req)
		if err != nil {
			return eris.Wrap(err, "create override")
		}

		zap.L().Info("override requested",
			zap.String("override_id", created.ID),
			zap.String("token_key", created.TokenKey),
		)
		fmt.Println(created.ID)
		return nil
	},
}

var overridesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List override requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("overrides"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		org, _ := cmd.Flags().GetString("org")
		posture, _ := cmd.Flags().GetString("posture")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		overrides, err := st.ListOverrides(ctx, store.OverrideFilter{
			OrgID:   org,
			Posture: model.Posture(posture),
			Status:  model.OverrideStatus(status),
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "overrides list")
		}

		if len(overrides) == 0 {
			fmt.Fprintln(os.Stderr, "No overrides found.")
			return nil
		}

		formatOverridesList(os.Stdout, overrides)
		return nil
	},
}

var overrideRole string

func newDecideCmd(use, short string, status model.OverrideStatus) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <override-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := cfg.Validate("overrides"); err != nil {
				return err
			}

			defaults, err := loadPolicyDefaults()
			if err != nil {
				return err
			}
			decision := policy.Decision{
				OverrideID: args[0],
				Approve:    status == model.OverrideStatusApproved,
				DecidedBy:  overrideBy,
				Role:       overrideRole,
			}
			if err := policy.ValidateDecision(decision, defaults.ApprovalRoles); err != nil {
				return err
			}

			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			decided, err := st.DecideOverride(ctx, args[0], status, overrideBy)
			if err != nil {
				return eris.Wrapf(err, "%s override", use)
			}

			zap.L().Info("override decided",
				zap.String("override_id", decided.ID),
				zap.String("status", string(decided.Status)),
				zap.String("decided_by", decided.DecidedBy),
			)
			return nil
		},
	}
	return cmd
}

func init() {
	overridesRequestCmd.Flags().StringVar(&overrideToken, "token", "", "policy token key (required)")
	overridesRequestCmd.Flags().StringVar(&overrideValue, "value", "", "new value as JSON (required)")
	overridesRequestCmd.Flags().StringVar(&overrideRun, "run", "", "scope the override to a single run ID")
	overridesRequestCmd.Flags().StringVar(&overrideJustification, "justification", "", "reason for the deviation (required)")
	overridesRequestCmd.Flags().StringVar(&overrideOrg, "org", "", "org ID (default from policy document)")
	overridesRequestCmd.Flags().StringVar(&overridePosture, "posture", string(model.PostureBase), "posture the override applies to")
	overridesRequestCmd.Flags().StringVar(&overrideBy, "by", "", "requesting identity (required)")
	_ = overridesRequestCmd.MarkFlagRequired("token")
	_ = overridesRequestCmd.MarkFlagRequired("value")
	_ = overridesRequestCmd.MarkFlagRequired("justification")
	_ = overridesRequestCmd.MarkFlagRequired("by")

	overridesListCmd.Flags().String("org", "", "filter by org ID")
	overridesListCmd.Flags().String("posture", "", "filter by posture")
	overridesListCmd.Flags().String("status", "", "filter by status (pending, approved, rejected)")
	overridesListCmd.Flags().Int("limit", 50, "max number of overrides to display")

	approveCmd := newDecideCmd("approve", "Approve a pending override", model.OverrideStatusApproved)
	rejectCmd := newDecideCmd("reject", "Reject a pending override", model.OverrideStatusRejected)
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&overrideBy, "by", "", "deciding identity (required)")
		c.Flags().StringVar(&overrideRole, "role", "", "role of the decider (required)")
		_ = c.MarkFlagRequired("by")
		_ = c.MarkFlagRequired("role")
	}

	overridesCmd.AddCommand(overridesRequestCmd)
	overridesCmd.AddCommand(overridesListCmd)
	overridesCmd.AddCommand(approveCmd)
	overridesCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(overridesCmd)
}

// formatOverridesList writes a tabular list of overrides to w.
func formatOverridesList(out io.Writer, overrides []model.PolicyOverride) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTOKEN\tPOSTURE\tVALUE\tSTATUS\tREQUESTED_BY\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t-----\t------\t------------\t-------")

	for _, o := range overrides {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(o.ID),
			o.TokenKey,
			o.Posture,
			string(o.NewValue),
			o.Status,
			o.RequestedBy,
			o.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
