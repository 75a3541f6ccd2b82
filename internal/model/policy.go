package model

// SpreadBand is one rung of the minimum-spread-by-ARV ladder. MaxARV nil
// means the band is open-ended.
type SpreadBand struct {
	MinARV            float64  `json:"min_arv" yaml:"min_arv"`
	MaxARV            *float64 `json:"max_arv,omitempty" yaml:"max_arv,omitempty"`
	MinSpreadDollars  float64  `json:"min_spread_dollars" yaml:"min_spread_dollars"`
	MinSpreadPctOfARV *float64 `json:"min_spread_pct_of_arv,omitempty" yaml:"min_spread_pct_of_arv,omitempty"`
}

// ResolvedPolicy is the flattened set of decision thresholds the engine
// consumes for one run. It is built fresh per computation by policy.Resolve;
// a nil field means no source supplied that token and downstream consumers
// must record an info-needed entry instead of assuming a default.
type ResolvedPolicy struct {
	Posture Posture `json:"posture"`
	Version string  `json:"version,omitempty"`

	// Caps.
	AIVCapPct *float64 `json:"aiv_cap_pct,omitempty"`

	// Carry.
	CarryMonthsRule  *string  `json:"carry_months_rule,omitempty"` // e.g. "DOM/30"
	CarryMonthsCap   *float64 `json:"carry_months_cap,omitempty"`
	HoldCostPerMonth *float64 `json:"hold_cost_per_month,omitempty"`

	// Seller-side fee rates, as decimals.
	ListCommissionPct *float64 `json:"list_commission_pct,omitempty"`
	ConcessionsPct    *float64 `json:"concessions_pct,omitempty"`
	SellClosePct      *float64 `json:"sell_close_pct,omitempty"`

	// Exit-strategy target margins, as decimals.
	WholesaleMarginPct *float64 `json:"wholesale_margin_pct,omitempty"`
	FlipMarginPct      *float64 `json:"flip_margin_pct,omitempty"`
	WholetailMarginPct *float64 `json:"wholetail_margin_pct,omitempty"`

	// Repairs.
	ContingencyByClass map[string]float64 `json:"contingency_by_class,omitempty"`

	// Floors and spreads.
	MinSpreadBands             []SpreadBand `json:"min_spread_bands,omitempty"`
	InvestorDiscountP20Pct     *float64     `json:"investor_discount_p20_pct,omitempty"`
	InvestorDiscountTypicalPct *float64     `json:"investor_discount_typical_pct,omitempty"`
	RetainedEquityPct          *float64     `json:"retained_equity_pct,omitempty"`
	MoveOutCashDefault         *float64     `json:"move_out_cash_default,omitempty"`
	MoveOutCashMin             *float64     `json:"move_out_cash_min,omitempty"`
	MoveOutCashMax             *float64     `json:"move_out_cash_max,omitempty"`

	// Workflow gates.
	CashGateMin         *float64 `json:"cash_gate_min,omitempty"`
	BorderlineBandWidth *float64 `json:"borderline_band_width,omitempty"`

	// Roles allowed to decide policy overrides.
	ApprovalRoles []string `json:"approval_roles,omitempty"`
}

// PolicyValues is one band of raw policy defaults, either global or for a
// single posture. Field names double as token keys; see policy.KnownTokens.
type PolicyValues struct {
	AIVCapPct                  *float64           `yaml:"aiv_cap_pct" json:"aiv_cap_pct,omitempty"`
	CarryMonthsRule            *string            `yaml:"carry_months_rule" json:"carry_months_rule,omitempty"`
	CarryMonthsCap             *float64           `yaml:"carry_months_cap" json:"carry_months_cap,omitempty"`
	HoldCostPerMonth           *float64           `yaml:"hold_cost_per_month" json:"hold_cost_per_month,omitempty"`
	ListCommissionPct          *float64           `yaml:"list_commission_pct" json:"list_commission_pct,omitempty"`
	ConcessionsPct             *float64           `yaml:"concessions_pct" json:"concessions_pct,omitempty"`
	SellClosePct               *float64           `yaml:"sell_close_pct" json:"sell_close_pct,omitempty"`
	WholesaleMarginPct         *float64           `yaml:"wholesale_margin_pct" json:"wholesale_margin_pct,omitempty"`
	FlipMarginPct              *float64           `yaml:"flip_margin_pct" json:"flip_margin_pct,omitempty"`
	WholetailMarginPct         *float64           `yaml:"wholetail_margin_pct" json:"wholetail_margin_pct,omitempty"`
	ContingencyByClass         map[string]float64 `yaml:"contingency_by_class" json:"contingency_by_class,omitempty"`
	MinSpreadBands             []SpreadBand       `yaml:"min_spread_bands" json:"min_spread_bands,omitempty"`
	InvestorDiscountP20Pct     *float64           `yaml:"investor_discount_p20_pct" json:"investor_discount_p20_pct,omitempty"`
	InvestorDiscountTypicalPct *float64           `yaml:"investor_discount_typical_pct" json:"investor_discount_typical_pct,omitempty"`
	RetainedEquityPct          *float64           `yaml:"retained_equity_pct" json:"retained_equity_pct,omitempty"`
	MoveOutCashDefault         *float64           `yaml:"move_out_cash_default" json:"move_out_cash_default,omitempty"`
	MoveOutCashMin             *float64           `yaml:"move_out_cash_min" json:"move_out_cash_min,omitempty"`
	MoveOutCashMax             *float64           `yaml:"move_out_cash_max" json:"move_out_cash_max,omitempty"`
	CashGateMin                *float64           `yaml:"cash_gate_min" json:"cash_gate_min,omitempty"`
	BorderlineBandWidth        *float64           `yaml:"borderline_band_width" json:"borderline_band_width,omitempty"`
}

// PolicyDefaults is the org-level policy document: global token values plus
// optional per-posture refinements.
type PolicyDefaults struct {
	OrgID         string                   `yaml:"org_id" json:"org_id,omitempty"`
	Version       string                   `yaml:"version" json:"version,omitempty"`
	Global        PolicyValues             `yaml:"global" json:"global"`
	Postures      map[Posture]PolicyValues `yaml:"postures" json:"postures,omitempty"`
	ApprovalRoles []string                 `yaml:"approval_roles" json:"approval_roles,omitempty"`
}
