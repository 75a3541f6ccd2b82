// Package policy resolves org-level defaults, posture selection, and
// approved overrides into the flattened policy the underwriting engine
// consumes, and guards the override approval workflow.
package policy

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/hps-group/dealengine/internal/model"
)

// Token identifies one governed policy knob. Tokens replace the legacy
// "<TOKEN_NAME>" string templating with a closed, typed key set.
type Token string

const (
	TokenAIVCapPct                  Token = "aiv_cap_pct"
	TokenCarryMonthsRule            Token = "carry_months_rule"
	TokenCarryMonthsCap             Token = "carry_months_cap"
	TokenHoldCostPerMonth           Token = "hold_cost_per_month"
	TokenListCommissionPct          Token = "list_commission_pct"
	TokenConcessionsPct             Token = "concessions_pct"
	TokenSellClosePct               Token = "sell_close_pct"
	TokenWholesaleMarginPct         Token = "wholesale_margin_pct"
	TokenFlipMarginPct              Token = "flip_margin_pct"
	TokenWholetailMarginPct         Token = "wholetail_margin_pct"
	TokenContingencyByClass         Token = "contingency_by_class"
	TokenMinSpreadBands             Token = "min_spread_bands"
	TokenInvestorDiscountP20Pct     Token = "investor_discount_p20_pct"
	TokenInvestorDiscountTypicalPct Token = "investor_discount_typical_pct"
	TokenRetainedEquityPct          Token = "retained_equity_pct"
	TokenMoveOutCashDefault         Token = "move_out_cash_default"
	TokenMoveOutCashMin             Token = "move_out_cash_min"
	TokenMoveOutCashMax             Token = "move_out_cash_max"
	TokenCashGateMin                Token = "cash_gate_min"
	TokenBorderlineBandWidth        Token = "borderline_band_width"
)

// numberBinding maps one numeric token to its default-value accessor and
// its slot on the resolved policy.
type numberBinding struct {
	get func(*model.PolicyValues) *float64
	set func(*model.ResolvedPolicy, float64)
}

var numberBindings = map[Token]numberBinding{
	TokenAIVCapPct: {
		get: func(v *model.PolicyValues) *float64 { return v.AIVCapPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.AIVCapPct = &f },
	},
	TokenCarryMonthsCap: {
		get: func(v *model.PolicyValues) *float64 { return v.CarryMonthsCap },
		set: func(p *model.ResolvedPolicy, f float64) { p.CarryMonthsCap = &f },
	},
	TokenHoldCostPerMonth: {
		get: func(v *model.PolicyValues) *float64 { return v.HoldCostPerMonth },
		set: func(p *model.ResolvedPolicy, f float64) { p.HoldCostPerMonth = &f },
	},
	TokenListCommissionPct: {
		get: func(v *model.PolicyValues) *float64 { return v.ListCommissionPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.ListCommissionPct = &f },
	},
	TokenConcessionsPct: {
		get: func(v *model.PolicyValues) *float64 { return v.ConcessionsPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.ConcessionsPct = &f },
	},
	TokenSellClosePct: {
		get: func(v *model.PolicyValues) *float64 { return v.SellClosePct },
		set: func(p *model.ResolvedPolicy, f float64) { p.SellClosePct = &f },
	},
	TokenWholesaleMarginPct: {
		get: func(v *model.PolicyValues) *float64 { return v.WholesaleMarginPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.WholesaleMarginPct = &f },
	},
	TokenFlipMarginPct: {
		get: func(v *model.PolicyValues) *float64 { return v.FlipMarginPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.FlipMarginPct = &f },
	},
	TokenWholetailMarginPct: {
		get: func(v *model.PolicyValues) *float64 { return v.WholetailMarginPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.WholetailMarginPct = &f },
	},
	TokenInvestorDiscountP20Pct: {
		get: func(v *model.PolicyValues) *float64 { return v.InvestorDiscountP20Pct },
		set: func(p *model.ResolvedPolicy, f float64) { p.InvestorDiscountP20Pct = &f },
	},
	TokenInvestorDiscountTypicalPct: {
		get: func(v *model.PolicyValues) *float64 { return v.InvestorDiscountTypicalPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.InvestorDiscountTypicalPct = &f },
	},
	TokenRetainedEquityPct: {
		get: func(v *model.PolicyValues) *float64 { return v.RetainedEquityPct },
		set: func(p *model.ResolvedPolicy, f float64) { p.RetainedEquityPct = &f },
	},
	TokenMoveOutCashDefault: {
		get: func(v *model.PolicyValues) *float64 { return v.MoveOutCashDefault },
		set: func(p *model.ResolvedPolicy, f float64) { p.MoveOutCashDefault = &f },
	},
	TokenMoveOutCashMin: {
		get: func(v *model.PolicyValues) *float64 { return v.MoveOutCashMin },
		set: func(p *model.ResolvedPolicy, f float64) { p.MoveOutCashMin = &f },
	},
	TokenMoveOutCashMax: {
		get: func(v *model.PolicyValues) *float64 { return v.MoveOutCashMax },
		set: func(p *model.ResolvedPolicy, f float64) { p.MoveOutCashMax = &f },
	},
	TokenCashGateMin: {
		get: func(v *model.PolicyValues) *float64 { return v.CashGateMin },
		set: func(p *model.ResolvedPolicy, f float64) { p.CashGateMin = &f },
	},
	TokenBorderlineBandWidth: {
		get: func(v *model.PolicyValues) *float64 { return v.BorderlineBandWidth },
		set: func(p *model.ResolvedPolicy, f float64) { p.BorderlineBandWidth = &f },
	},
}

// KnownToken reports whether key names a governed token.
func KnownToken(key string) bool {
	t := Token(key)
	if _, ok := numberBindings[t]; ok {
		return true
	}
	switch t {
	case TokenCarryMonthsRule, TokenContingencyByClass, TokenMinSpreadBands:
		return true
	}
	return false
}

// KnownTokens returns every governed token key, for validation and UIs.
func KnownTokens() []Token {
	out := make([]Token, 0, len(numberBindings)+3)
	for t := range numberBindings {
		out = append(out, t)
	}
	out = append(out, TokenCarryMonthsRule, TokenContingencyByClass, TokenMinSpreadBands)
	return out
}

// applyOverrideValue decodes raw per the token's kind and writes it onto p.
func applyOverrideValue(p *model.ResolvedPolicy, token Token, raw json.RawMessage) error {
	if b, ok := numberBindings[token]; ok {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return eris.Wrapf(err, "policy: override %s expects a number", token)
		}
		b.set(p, f)
		return nil
	}
	switch token {
	case TokenCarryMonthsRule:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return eris.Wrapf(err, "policy: override %s expects a string", token)
		}
		p.CarryMonthsRule = &s
		return nil
	case TokenContingencyByClass:
		var m map[string]float64
		if err := json.Unmarshal(raw, &m); err != nil {
			return eris.Wrapf(err, "policy: override %s expects an object of class percentages", token)
		}
		p.ContingencyByClass = m
		return nil
	case TokenMinSpreadBands:
		var bands []model.SpreadBand
		if err := json.Unmarshal(raw, &bands); err != nil {
			return eris.Wrapf(err, "policy: override %s expects a band array", token)
		}
		p.MinSpreadBands = bands
		return nil
	}
	return eris.Errorf("policy: unknown token %q", token)
}
