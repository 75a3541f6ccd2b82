package policy

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hps-group/dealengine/internal/model"
)

// ResolveOptions scopes a resolution to a particular run, so run-scoped
// overrides can participate.
type ResolveOptions struct {
	RunID string
}

// Resolve flattens org defaults, posture selection, and approved overrides
// into the policy one engine run consumes.
//
// Precedence per token: approved override (run-scoped before unscoped,
// newest decision first) > posture-specific default > global default. A
// token no source supplies stays nil on the result; the engine records an
// info-needed entry for it instead of inventing a value.
//
// An unknown posture is a caller error. A malformed override (unknown token
// key, value of the wrong shape) is logged and skipped; it never poisons
// the rest of the resolution.
func Resolve(defaults *model.PolicyDefaults, posture model.Posture, overrides []model.PolicyOverride, opts ResolveOptions) (*model.ResolvedPolicy, error) {
	if defaults == nil {
		return nil, eris.New("policy: defaults are required")
	}
	if !model.ValidPosture(posture) {
		return nil, eris.Errorf("policy: unknown posture %q", posture)
	}

	resolved := &model.ResolvedPolicy{
		Posture:       posture,
		Version:       defaults.Version,
		ApprovalRoles: approvalRoles(defaults),
	}

	global := defaults.Global
	var postureVals *model.PolicyValues
	if pv, ok := defaults.Postures[posture]; ok {
		postureVals = &pv
	}

	// Layer 1+2: global, then posture refinement.
	for _, b := range numberBindings {
		if v := b.get(&global); v != nil {
			b.set(resolved, *v)
		}
		if postureVals != nil {
			if v := b.get(postureVals); v != nil {
				b.set(resolved, *v)
			}
		}
	}
	if global.CarryMonthsRule != nil {
		rule := *global.CarryMonthsRule
		resolved.CarryMonthsRule = &rule
	}
	if len(global.ContingencyByClass) > 0 {
		resolved.ContingencyByClass = copyClassMap(global.ContingencyByClass)
	}
	if len(global.MinSpreadBands) > 0 {
		resolved.MinSpreadBands = append([]model.SpreadBand(nil), global.MinSpreadBands...)
	}
	if postureVals != nil {
		if postureVals.CarryMonthsRule != nil {
			rule := *postureVals.CarryMonthsRule
			resolved.CarryMonthsRule = &rule
		}
		if len(postureVals.ContingencyByClass) > 0 {
			resolved.ContingencyByClass = copyClassMap(postureVals.ContingencyByClass)
		}
		if len(postureVals.MinSpreadBands) > 0 {
			resolved.MinSpreadBands = append([]model.SpreadBand(nil), postureVals.MinSpreadBands...)
		}
	}

	// Layer 3: approved overrides. Apply in reverse precedence so the
	// strongest match lands last.
	applicable := selectOverrides(defaults.OrgID, posture, overrides, opts.RunID)
	for i := len(applicable) - 1; i >= 0; i-- {
		o := applicable[i]
		if !KnownToken(o.TokenKey) {
			zap.L().Warn("policy: skipping override with unknown token",
				zap.String("override_id", o.ID),
				zap.String("token_key", o.TokenKey),
			)
			continue
		}
		if err := applyOverrideValue(resolved, Token(o.TokenKey), o.NewValue); err != nil {
			zap.L().Warn("policy: skipping malformed override",
				zap.String("override_id", o.ID),
				zap.String("token_key", o.TokenKey),
				zap.Error(err),
			)
		}
	}

	return resolved, nil
}

// selectOverrides filters to approved overrides applicable to this
// org/posture/run and orders them strongest-first: run-scoped before
// unscoped, then newest decision first.
func selectOverrides(orgID string, posture model.Posture, overrides []model.PolicyOverride, runID string) []model.PolicyOverride {
	var out []model.PolicyOverride
	for _, o := range overrides {
		if o.AppliesTo(orgID, posture, runID) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].RunID != "", out[j].RunID != ""
		if si != sj {
			return si
		}
		ti, tj := out[i].DecidedAt, out[j].DecidedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	return out
}

func approvalRoles(defaults *model.PolicyDefaults) []string {
	if len(defaults.ApprovalRoles) > 0 {
		return append([]string(nil), defaults.ApprovalRoles...)
	}
	return []string{"manager", "vp", "owner"}
}

func copyClassMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
