package engine

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hps-group/dealengine/internal/model"
)

// SpeedBand classifies zip-level market velocity.
type SpeedBand string

const (
	SpeedFast     SpeedBand = "fast"
	SpeedBalanced SpeedBand = "balanced"
	SpeedSlow     SpeedBand = "slow"
)

// CashGateStatus is the outcome of the minimum-cash-spread gate.
type CashGateStatus string

const (
	CashGatePass      CashGateStatus = "pass"
	CashGateShortfall CashGateStatus = "shortfall"
	CashGateUnknown   CashGateStatus = "unknown"
)

// WorkflowState tells the desk what the run needs next.
type WorkflowState string

const (
	StateNeedsInfo     WorkflowState = "NeedsInfo"
	StateNeedsReview   WorkflowState = "NeedsReview"
	StateReadyForOffer WorkflowState = "ReadyForOffer"
)

// ExitTrack names the exit strategy a ceiling or offer is computed for.
type ExitTrack string

const (
	TrackWholesale ExitTrack = "wholesale"
	TrackFlip      ExitTrack = "flip"
	TrackWholetail ExitTrack = "wholetail"
	TrackAsIsCap   ExitTrack = "as_is_cap"
)

// CapsOutput reports whether the AIV safety cap bound and at what value.
type CapsOutput struct {
	AIVCapApplied bool     `json:"aiv_cap_applied"`
	AIVCapValue   *float64 `json:"aiv_cap_value,omitempty"`
}

// CarryOutput reports the DOM-to-months conversion.
type CarryOutput struct {
	MonthsRule  string   `json:"months_rule,omitempty"`
	MonthsCap   *float64 `json:"months_cap,omitempty"`
	RawMonths   *float64 `json:"raw_months,omitempty"`
	CarryMonths *float64 `json:"carry_months,omitempty"`
}

// FeeRates are the seller-side rates used for the preview, as decimals.
type FeeRates struct {
	ListCommissionPct float64 `json:"list_commission_pct"`
	ConcessionsPct    float64 `json:"concessions_pct"`
	SellClosePct      float64 `json:"sell_close_pct"`
}

// FeePreview is the per-line seller-side cost estimate. Each line is rounded
// to cents independently before the total is taken.
type FeePreview struct {
	BasePrice            float64 `json:"base_price"`
	ListCommissionAmount float64 `json:"list_commission_amount"`
	ConcessionsAmount    float64 `json:"concessions_amount"`
	SellCloseAmount      float64 `json:"sell_close_amount"`
	TotalSellerSideCosts float64 `json:"total_seller_side_costs"`
}

// FeesOutput bundles rates and preview.
type FeesOutput struct {
	Rates   FeeRates   `json:"rates"`
	Preview FeePreview `json:"preview"`
}

// TimelineSummary condenses the deal's schedule for the dashboard.
type TimelineSummary struct {
	DaysToMoney *int      `json:"days_to_money,omitempty"`
	CarryMonths *float64  `json:"carry_months,omitempty"`
	SpeedBand   SpeedBand `json:"speed_band,omitempty"`
	Urgency     string    `json:"urgency,omitempty"` // normal | elevated | critical
	AuctionDate string    `json:"auction_date,omitempty"`
}

// RiskSummary is a coarse gate roll-up over known risk dimensions.
type RiskSummary struct {
	Overall      string   `json:"overall"` // pass | watch | fail | info_needed
	Insurability string   `json:"insurability,omitempty"`
	Title        string   `json:"title,omitempty"`
	Payoff       string   `json:"payoff,omitempty"`
	Reasons      []string `json:"reasons"`
}

// Outputs is the full result record of one underwriting computation.
// Nil pointers mean the value could not be computed from available inputs;
// the matching InfoNeeded entry says what was missing.
type Outputs struct {
	Caps  CapsOutput  `json:"caps"`
	Carry CarryOutput `json:"carry"`
	Fees  FeesOutput  `json:"fees"`

	RepairsTotal *float64 `json:"repairs_total,omitempty"`

	FlipCeiling      *float64 `json:"flip_ceiling,omitempty"`
	WholetailCeiling *float64 `json:"wholetail_ceiling,omitempty"`
	BuyerCeiling     *float64 `json:"buyer_ceiling,omitempty"`

	FloorInvestor        *float64 `json:"floor_investor,omitempty"`
	PayoffPlusEssentials *float64 `json:"payoff_plus_essentials,omitempty"`
	RespectFloor         *float64 `json:"respect_floor,omitempty"`

	PayoffProjected        *float64  `json:"payoff_projected,omitempty"`
	MAO                    *float64  `json:"mao,omitempty"`
	PrimaryOffer           *float64  `json:"primary_offer,omitempty"`
	PrimaryOfferTrack      ExitTrack `json:"primary_offer_track,omitempty"`
	WindowFloorToOffer     *float64  `json:"window_floor_to_offer,omitempty"`
	HeadroomOfferToCeiling *float64  `json:"headroom_offer_to_ceiling,omitempty"`
	CushionVsPayoff        *float64  `json:"cushion_vs_payoff,omitempty"`
	ShortfallVsPayoff      *float64  `json:"shortfall_vs_payoff,omitempty"`

	SpreadCash        *float64       `json:"spread_cash,omitempty"`
	MinSpreadRequired *float64       `json:"min_spread_required,omitempty"`
	CashGateStatus    CashGateStatus `json:"cash_gate_status"`
	CashDeficit       *float64       `json:"cash_deficit,omitempty"`
	BorderlineFlag    bool           `json:"borderline_flag"`

	StrategyRecommendation string `json:"strategy_recommendation,omitempty"`

	WorkflowState     WorkflowState `json:"workflow_state"`
	ConfidenceGrade   string        `json:"confidence_grade"` // A | B | C
	ConfidenceReasons []string      `json:"confidence_reasons,omitempty"`

	Timeline TimelineSummary `json:"timeline_summary"`
	Risk     RiskSummary     `json:"risk_summary"`

	SummaryNotes []string `json:"summary_notes,omitempty"`
}

// Result is the outcome of ComputeUnderwriting: partial outputs, an ordered
// provenance trace, and the missing-input ledger.
type Result struct {
	Outputs    *Outputs           `json:"outputs"`
	Trace      []model.TraceFrame `json:"trace"`
	InfoNeeded []model.InfoNeeded `json:"info_needed"`
}

var carryRuleRe = regexp.MustCompile(`^DOM\s*/\s*(\d+(\.\d+)?)$`)

// monthsFromDOM converts days-on-market to months using a "DOM/<divisor>"
// rule string. Unknown patterns and non-positive divisors fall back to DOM/30.
func monthsFromDOM(dom float64, rule string) float64 {
	r := strings.ToUpper(strings.TrimSpace(rule))
	if r == "" {
		r = "DOM/30"
	}
	divisor := 30.0
	if m := carryRuleRe.FindStringSubmatch(r); m != nil {
		if d, err := strconv.ParseFloat(m[1], 64); err == nil && d > 0 {
			divisor = d
		}
	}
	return dom / divisor
}

// speedBandFromMarket buckets zip velocity from DOM and months of inventory.
func speedBandFromMarket(dom, moi *float64) SpeedBand {
	d, hasDOM := finite(dom)
	m, hasMOI := finite(moi)
	if !hasDOM && !hasMOI {
		return ""
	}
	if (hasDOM && d <= 30) || (hasMOI && m <= 3) {
		return SpeedFast
	}
	if (hasDOM && d <= 90) || (hasMOI && m <= 6) {
		return SpeedBalanced
	}
	return SpeedSlow
}

// uw accumulates one computation's trace and info-needed ledger.
type uw struct {
	trace      []model.TraceFrame
	infoNeeded []model.InfoNeeded
	notes      []string
}

func (u *uw) frame(rule string, used []string, details map[string]any) {
	u.trace = append(u.trace, model.TraceFrame{Rule: rule, Used: used, Details: details})
}

func (u *uw) needInfo(path, token, reason string, source model.SourceOfTruth) {
	u.infoNeeded = append(u.infoNeeded, model.InfoNeeded{
		Path:          path,
		Token:         token,
		Reason:        reason,
		SourceOfTruth: source,
	})
}

func (u *uw) note(format string, args ...any) {
	u.notes = append(u.notes, fmt.Sprintf(format, args...))
}

// ComputeUnderwriting runs the deterministic underwriting pipeline over one
// deal and one resolved policy. It is pure: no I/O, no clocks, no shared
// state. Missing inputs degrade to partial outputs plus an InfoNeeded entry;
// the run never fails on absent or malformed numeric data.
func ComputeUnderwriting(deal *model.Deal, policy *model.ResolvedPolicy) *Result {
	u := &uw{}
	out := &Outputs{CashGateStatus: CashGateUnknown}

	aiv := deal.Market.AIV
	arv := deal.Market.ARV
	domZip := deal.Market.DOMZip
	moiZip := deal.Market.MOIZip
	speedBand := speedBandFromMarket(domZip, moiZip)

	if _, ok := finite(arv); !ok {
		u.needInfo("deal.market.arv", "", "ARV required to compute buyer ceiling.", model.SourceInvestorSet)
	}
	if _, ok := finite(aiv); !ok {
		u.needInfo("deal.market.aiv", "", "AIV (as-is value) required to compute caps and fee preview.", model.SourceInvestorSet)
	}

	aivCapValue := u.applyAIVCap(out, aiv, policy)
	basePrice := u.basePrice(aivCapValue, aiv)
	carryMonths := u.carryMonths(out, domZip, policy)
	buyerCosts := u.feePreview(out, basePrice, policy)
	repairsTotal := u.repairsTotal(out, deal, policy)
	carryCost := u.carryCost(carryMonths, deal, policy)

	u.buyerCeilings(out, arv, aivCapValue, repairsTotal, buyerCosts, carryCost, carryMonths, policy)
	u.floors(out, deal, aiv, policy)
	u.clampMAO(out, aivCapValue, aiv)
	u.spreadAndGates(out, arv, policy)
	u.timeline(out, deal, domZip, carryMonths, speedBand)
	u.risk(out, deal)

	out.SummaryNotes = u.notes
	return &Result{Outputs: out, Trace: u.trace, InfoNeeded: u.infoNeeded}
}

// applyAIVCap computes the safety-capped AIV: round2(aiv * capPct), with
// capApplied true only when the cap actually bound.
func (u *uw) applyAIVCap(out *Outputs, aiv *float64, policy *model.ResolvedPolicy) *float64 {
	capPct, hasCap := finite(policy.AIVCapPct)
	if !hasCap {
		u.needInfo("policy.aiv_cap_pct", "aiv_cap_pct", "Missing AIV safety cap percentage.", model.SourceTeamPolicySet)
	}

	var capped *float64
	applied := false
	if a, ok := finite(aiv); ok && hasCap {
		c := round2(a * capPct)
		capped = &c
		applied = c < a
	}

	details := map[string]any{
		"aiv":       deref(aiv),
		"cap_value": deref(capped),
		"applied":   applied,
	}
	if hasCap {
		details["cap_pct"] = capPct
	}
	u.frame("AIV_SAFETY_CAP", []string{"deal.market.aiv", "policy.aiv_cap_pct"}, details)

	out.Caps = CapsOutput{AIVCapApplied: applied, AIVCapValue: capped}
	if capped != nil {
		if applied {
			u.note("AIV safety cap applied at %.2f; capped AIV = %.2f.", capPct, *capped)
		} else {
			u.note("AIV safety cap not binding; cap = %.0f%% of AIV.", round2(capPct*100))
		}
	}
	return capped
}

// basePrice is the fee-preview base: capped AIV when available, raw AIV
// otherwise, zero when neither is known.
func (u *uw) basePrice(aivCapValue, aiv *float64) float64 {
	if v, ok := finite(aivCapValue); ok {
		return v
	}
	if v, ok := finite(aiv); ok {
		return v
	}
	return 0
}

func (u *uw) carryMonths(out *Outputs, domZip *float64, policy *model.ResolvedPolicy) *float64 {
	rule := ""
	if policy.CarryMonthsRule != nil {
		rule = *policy.CarryMonthsRule
	} else {
		u.needInfo("policy.carry_months_rule", "carry_months_rule", "Missing DOM-to-months rule.", model.SourceTeamPolicySet)
	}
	monthsCap, hasMonthsCap := finite(policy.CarryMonthsCap)
	if !hasMonthsCap {
		u.needInfo("policy.carry_months_cap", "carry_months_cap", "Missing hard cap on carry months.", model.SourceTeamPolicySet)
	}

	var rawMonths, carryMonths *float64
	if dom, ok := finite(domZip); ok {
		raw := monthsFromDOM(dom, rule)
		rawMonths = &raw
		months := raw
		if hasMonthsCap {
			months = math.Min(raw, monthsCap)
		}
		carryMonths = &months
	}

	u.frame("CARRY_MONTHS",
		[]string{"deal.market.dom_zip", "policy.carry_months_rule", "policy.carry_months_cap"},
		map[string]any{
			"dom_zip":      deref(domZip),
			"rule":         rule,
			"raw_months":   deref(rawMonths),
			"months_cap":   deref(policy.CarryMonthsCap),
			"carry_months": deref(carryMonths),
		})

	out.Carry = CarryOutput{
		MonthsRule:  rule,
		MonthsCap:   policy.CarryMonthsCap,
		RawMonths:   rawMonths,
		CarryMonths: carryMonths,
	}
	if domZip != nil {
		if carryMonths != nil {
			u.note("Carry months = %.2f (rule %s, raw %.2f).", *carryMonths, orDefaultRule(rule), *rawMonths)
		} else {
			u.note("DOM provided (%.0f) but carry months not computed due to missing rule/cap.", *domZip)
		}
	}
	return carryMonths
}

func orDefaultRule(rule string) string {
	if rule == "" {
		return "DOM/30"
	}
	return rule
}

// feePreview computes the seller-side cost estimate. Each line item is
// rounded to cents before summing; the ordering matters for numeric parity
// with persisted runs.
func (u *uw) feePreview(out *Outputs, basePrice float64, policy *model.ResolvedPolicy) float64 {
	listPct, ok := finite(policy.ListCommissionPct)
	if !ok {
		u.needInfo("policy.list_commission_pct", "list_commission_pct", "Missing list commission percentage.", model.SourceTeamPolicySet)
	}
	concessionsPct, ok := finite(policy.ConcessionsPct)
	if !ok {
		u.needInfo("policy.concessions_pct", "concessions_pct", "Missing concessions percentage.", model.SourceTeamPolicySet)
	}
	sellClosePct, ok := finite(policy.SellClosePct)
	if !ok {
		u.needInfo("policy.sell_close_pct", "sell_close_pct", "Missing seller-side closing cost percentage.", model.SourceTeamPolicySet)
	}

	listAmt := round2(basePrice * listPct)
	consAmt := round2(basePrice * concessionsPct)
	sellCloseAmt := round2(basePrice * sellClosePct)
	total := round2(listAmt + consAmt + sellCloseAmt)

	u.frame("FEES_PREVIEW",
		[]string{"policy.list_commission_pct", "policy.concessions_pct", "policy.sell_close_pct", "base_price"},
		map[string]any{
			"base_price":              basePrice,
			"list_commission_pct":     listPct,
			"concessions_pct":         concessionsPct,
			"sell_close_pct":          sellClosePct,
			"list_commission_amount":  listAmt,
			"concessions_amount":      consAmt,
			"sell_close_amount":       sellCloseAmt,
			"total_seller_side_costs": total,
		})

	out.Fees = FeesOutput{
		Rates: FeeRates{ListCommissionPct: listPct, ConcessionsPct: concessionsPct, SellClosePct: sellClosePct},
		Preview: FeePreview{
			BasePrice:            basePrice,
			ListCommissionAmount: listAmt,
			ConcessionsAmount:    consAmt,
			SellCloseAmount:      sellCloseAmt,
			TotalSellerSideCosts: total,
		},
	}
	return total
}

// repairsTotal is the base repair estimate plus contingency. The deal's own
// contingency percentage wins; otherwise the policy's by-class table applies.
func (u *uw) repairsTotal(out *Outputs, deal *model.Deal, policy *model.ResolvedPolicy) float64 {
	base := nonNegative(deal.Costs.RepairsBase)
	contingencyPct, hasContingency := finite(deal.Costs.ContingencyPct)
	source := "deal"
	if !hasContingency {
		if pct, ok := policy.ContingencyByClass[deal.Costs.RepairClass]; ok {
			contingencyPct = pct
			hasContingency = true
			source = "policy_class_table"
		}
	}
	total := base
	if hasContingency {
		total = round2(base * (1 + contingencyPct))
	}

	u.frame("REPAIRS_CONTINGENCY",
		[]string{"deal.costs.repairs_base", "deal.costs.contingency_pct", "policy.contingency_by_class"},
		map[string]any{
			"repairs_base":       base,
			"repair_class":       deal.Costs.RepairClass,
			"contingency_pct":    contingencyPct,
			"contingency_source": source,
			"repairs_total":      total,
		})
	out.RepairsTotal = &total
	return total
}

// carryCost totals holding costs over the carry window. The policy's hold
// cost per month wins; the deal's own monthly carry figure is the fallback.
func (u *uw) carryCost(carryMonths *float64, deal *model.Deal, policy *model.ResolvedPolicy) float64 {
	months, ok := finite(carryMonths)
	if !ok {
		return 0
	}
	perMonth, ok := finite(policy.HoldCostPerMonth)
	if !ok {
		perMonth = nonNegative(deal.Costs.MonthlyCarry)
	}
	return round2(months * perMonth)
}

// buyerCeilings computes the flip and wholetail ceiling candidates and the
// chosen ceiling: the better of the two exits, never above the AIV cap.
func (u *uw) buyerCeilings(out *Outputs, arv, aivCapValue *float64, repairsTotal, buyerCosts, carryCost float64, carryMonths *float64, policy *model.ResolvedPolicy) {
	a, hasARV := finite(arv)
	if !hasARV {
		u.frame("BUYER_CEILING",
			[]string{"deal.market.arv"},
			map[string]any{"arv": nil, "buyer_ceiling": nil})
		return
	}

	candidate := func(marginPct *float64, token string, reason string) *float64 {
		margin, ok := finite(marginPct)
		if !ok {
			u.needInfo("policy."+token, token, reason, model.SourceTeamPolicySet)
			return nil
		}
		c := round2(a*(1-margin) - repairsTotal - buyerCosts - carryCost)
		return &c
	}

	flip := candidate(policy.FlipMarginPct, "flip_margin_pct", "Missing flip target margin percentage for buyer ceiling.")
	wholetail := candidate(policy.WholetailMarginPct, "wholetail_margin_pct", "Missing wholetail target margin percentage for buyer ceiling.")

	var best *float64
	bestTrack := ExitTrack("")
	if f, ok := finite(flip); ok {
		best = ptr(f)
		bestTrack = TrackFlip
	}
	if w, ok := finite(wholetail); ok {
		if best == nil || w > *best {
			best = ptr(w)
			bestTrack = TrackWholetail
		}
	}

	chosen := best
	if best != nil {
		if cap, ok := finite(aivCapValue); ok && cap < *best {
			chosen = ptr(cap)
		}
	}

	u.frame("BUYER_CEILING",
		[]string{"deal.market.arv", "policy.flip_margin_pct", "policy.wholetail_margin_pct", "deal.costs.repairs_base", "policy.aiv_cap_pct"},
		map[string]any{
			"arv":               a,
			"repairs_total":     repairsTotal,
			"buyer_costs_total": buyerCosts,
			"carry_months":      deref(carryMonths),
			"carry_cost_total":  carryCost,
			"flip_ceiling":      deref(flip),
			"wholetail_ceiling": deref(wholetail),
			"best_exit":         string(bestTrack),
			"aiv_cap_value":     deref(aivCapValue),
			"buyer_ceiling":     deref(chosen),
		})

	out.FlipCeiling = flip
	out.WholetailCeiling = wholetail
	out.BuyerCeiling = chosen
	out.PrimaryOfferTrack = bestTrack
}

// floors computes the investor floor and the payoff-plus-essentials floor,
// then the respect floor as their max.
func (u *uw) floors(out *Outputs, deal *model.Deal, aiv *float64, policy *model.ResolvedPolicy) {
	if p, ok := finite(deal.Debt.Payoff); ok {
		out.PayoffProjected = ptr(p)
	} else if p, ok := finite(deal.Debt.SeniorPrincipal); ok {
		out.PayoffProjected = ptr(p)
	}
	out.FloorInvestor = u.floorInvestor(aiv, deal.Market.ZipPercentile, policy)
	out.PayoffPlusEssentials = u.payoffPlusEssentials(out, aiv, policy)

	fi, hasFI := finite(out.FloorInvestor)
	pe, hasPE := finite(out.PayoffPlusEssentials)
	switch {
	case !hasFI && !hasPE:
		u.needInfo("respect_floor", "", "Respect floor could not be computed (missing investor floor and payoff+essentials).", model.SourceTeamPolicySet)
	case !hasFI:
		out.RespectFloor = ptr(pe)
	case !hasPE:
		out.RespectFloor = ptr(fi)
	default:
		out.RespectFloor = ptr(math.Max(fi, pe))
	}

	u.frame("RESPECT_FLOOR",
		[]string{
			"deal.market.aiv", "deal.debt.payoff",
			"policy.investor_discount_p20_pct", "policy.investor_discount_typical_pct",
			"policy.retained_equity_pct", "policy.move_out_cash_default",
		},
		map[string]any{
			"floor_investor":         deref(out.FloorInvestor),
			"payoff_plus_essentials": deref(out.PayoffPlusEssentials),
			"respect_floor":          deref(out.RespectFloor),
			"composition_mode":       "max",
		})
}

func (u *uw) floorInvestor(aiv, zipPercentile *float64, policy *model.ResolvedPolicy) *float64 {
	a, ok := finite(aiv)
	if !ok {
		return nil
	}

	p20, hasP20 := finite(policy.InvestorDiscountP20Pct)
	typical, hasTypical := finite(policy.InvestorDiscountTypicalPct)
	if !hasP20 || !hasTypical {
		u.needInfo("policy.investor_discount", "investor_discount_typical_pct",
			"Missing investor floor discount percentages (P20/typical).", model.SourceTeamPolicySet)
	}

	var discount float64
	switch {
	case zipPercentile != nil && *zipPercentile <= 20 && hasP20:
		discount = p20
	case hasTypical:
		discount = typical
	case hasP20:
		discount = p20
	default:
		return nil
	}
	return ptr(round2(a * (1 - discount)))
}

func (u *uw) payoffPlusEssentials(out *Outputs, aiv *float64, policy *model.ResolvedPolicy) *float64 {
	payoff, ok := finite(out.PayoffProjected)
	if !ok {
		u.needInfo("deal.debt.payoff", "", "Payoff required to compute payoff + essentials floor.", model.SourceInvestorSet)
		return nil
	}

	retainedEquity := 0.0
	if pct, hasPct := finite(policy.RetainedEquityPct); hasPct {
		if a, hasAIV := finite(aiv); hasAIV {
			retainedEquity = round2(a * pct)
		}
	} else {
		u.needInfo("policy.retained_equity_pct", "retained_equity_pct",
			"Missing retained equity percentage for payoff floor.", model.SourceTeamPolicySet)
	}

	moveOutCash, hasMoveOut := finite(policy.MoveOutCashDefault)
	if !hasMoveOut {
		u.needInfo("policy.move_out_cash_default", "move_out_cash_default",
			"Missing default move-out cash for payoff floor.", model.SourceTeamPolicySet)
	}
	if min, ok := finite(policy.MoveOutCashMin); ok {
		moveOutCash = math.Max(moveOutCash, min)
	}
	if max, ok := finite(policy.MoveOutCashMax); ok {
		moveOutCash = math.Min(moveOutCash, max)
	}

	return ptr(round2(payoff + retainedEquity + moveOutCash))
}

// clampMAO derives the maximum allowable offer: the lowest of the respect
// floor, the capped as-is value, and the chosen buyer ceiling.
func (u *uw) clampMAO(out *Outputs, aivCapValue, aiv *float64) {
	asIsCap := aivCapValue
	if asIsCap == nil {
		asIsCap = aiv
	}
	mao := minNonNil(out.RespectFloor, asIsCap, out.BuyerCeiling)

	u.frame("MAO_CLAMP",
		[]string{"RESPECT_FLOOR", "AIV_SAFETY_CAP", "BUYER_CEILING"},
		map[string]any{
			"respect_floor": deref(out.RespectFloor),
			"as_is_cap":     deref(asIsCap),
			"buyer_ceiling": deref(out.BuyerCeiling),
			"mao":           deref(mao),
		})

	out.MAO = mao
	out.PrimaryOffer = mao
	if mao == nil {
		out.PrimaryOfferTrack = ""
	} else if out.PrimaryOfferTrack == "" {
		out.PrimaryOfferTrack = TrackAsIsCap
	}
}

// spreadAndGates derives the spread metrics, the ARV-band minimum spread,
// the cash gate, the borderline flag, and the workflow state.
func (u *uw) spreadAndGates(out *Outputs, arv *float64, policy *model.ResolvedPolicy) {
	payoff := out.PayoffProjected
	offer, hasOffer := finite(out.PrimaryOffer)
	floor, hasFloor := finite(out.RespectFloor)
	ceiling, hasCeiling := finite(out.BuyerCeiling)

	if hasOffer && hasFloor {
		out.WindowFloorToOffer = ptr(round2(offer - floor))
	}
	if hasOffer && hasCeiling {
		out.HeadroomOfferToCeiling = ptr(round2(ceiling - offer))
	}
	if p, ok := finite(payoff); ok && hasOffer {
		out.CushionVsPayoff = ptr(round2(offer - p))
		out.ShortfallVsPayoff = ptr(round2(p - offer))
		out.SpreadCash = ptr(round2(offer - p))
	} else {
		u.needInfo("spread_cash", "", "Missing inputs to compute cash spread (offer or payoff).", model.SourceInvestorSet)
	}

	minSpread, band := u.minSpreadRequired(arv, policy)
	out.MinSpreadRequired = minSpread

	cashGateMin, hasGateMin := finite(policy.CashGateMin)
	if !hasGateMin {
		u.needInfo("policy.cash_gate_min", "cash_gate_min",
			"Missing cash gate minimum; gate cannot be evaluated.", model.SourceTeamPolicySet)
	}
	if spread, ok := finite(out.SpreadCash); !ok || !hasGateMin {
		out.CashGateStatus = CashGateUnknown
	} else if spread >= cashGateMin {
		out.CashGateStatus = CashGatePass
		out.CashDeficit = ptr(0)
	} else {
		out.CashGateStatus = CashGateShortfall
		out.CashDeficit = ptr(round2(cashGateMin - spread))
	}

	bandWidth, hasBandWidth := finite(policy.BorderlineBandWidth)
	if !hasBandWidth {
		u.needInfo("policy.borderline_band_width", "borderline_band_width",
			"Missing borderline band width for spread proximity check.", model.SourceTeamPolicySet)
	}

	switch {
	case !hasOffer || !hasFloor || !hasCeiling:
		out.WorkflowState = StateNeedsInfo
	case out.WindowFloorToOffer != nil && *out.WindowFloorToOffer < 0:
		out.WorkflowState = StateNeedsReview
	default:
		out.WorkflowState = StateReadyForOffer
	}

	if len(u.infoNeeded) > 0 || !hasOffer {
		out.ConfidenceGrade = "C"
		out.ConfidenceReasons = []string{"Missing inputs or outstanding info-needed items."}
	} else {
		out.ConfidenceGrade = "B"
	}

	borderlineDueToSpread := false
	if spread, ok := finite(out.SpreadCash); ok && hasBandWidth {
		if ms, ok := finite(minSpread); ok {
			borderlineDueToSpread = math.Abs(spread-ms) <= bandWidth
		}
	}
	confidenceIsC := out.ConfidenceGrade == "C"
	out.BorderlineFlag = borderlineDueToSpread || confidenceIsC

	if out.PrimaryOffer != nil && out.PrimaryOfferTrack != "" {
		out.StrategyRecommendation = fmt.Sprintf("Recommend %s exit, offer anchored at respect floor.", out.PrimaryOfferTrack)
	}

	var gateMinDetail any
	if hasGateMin {
		gateMinDetail = cashGateMin
	}

	bandDetails := map[string]any{
		"arv":                 deref(arv),
		"min_spread_required": deref(minSpread),
		"cash_gate_min":       gateMinDetail,
	}
	if band != nil {
		bandDetails["band_min_arv"] = band.MinARV
		bandDetails["band_max_arv"] = deref(band.MaxARV)
		bandDetails["min_spread_pct_of_arv"] = deref(band.MinSpreadPctOfARV)
	}
	u.frame("SPREAD_LADDER", []string{"deal.market.arv", "policy.min_spread_bands"}, bandDetails)

	u.frame("CASH_GATE",
		[]string{"primary_offer", "deal.debt.payoff", "policy.cash_gate_min"},
		map[string]any{
			"spread_cash":      deref(out.SpreadCash),
			"cash_gate_status": string(out.CashGateStatus),
			"cash_deficit":     deref(out.CashDeficit),
			"cash_gate_min":    gateMinDetail,
		})

	borderlineReason := "none"
	switch {
	case borderlineDueToSpread && confidenceIsC:
		borderlineReason = "both"
	case borderlineDueToSpread:
		borderlineReason = "spread"
	case confidenceIsC:
		borderlineReason = "confidence"
	}
	u.frame("BORDERLINE",
		[]string{"SPREAD_LADDER", "CASH_GATE", "confidence_grade"},
		map[string]any{
			"borderline_flag":       out.BorderlineFlag,
			"reason":                borderlineReason,
			"confidence_grade":      out.ConfidenceGrade,
			"borderline_band_width": bandWidth,
		})
}

// minSpreadRequired selects the ARV band and takes the larger of the band's
// dollar minimum and its percent-of-ARV minimum.
func (u *uw) minSpreadRequired(arv *float64, policy *model.ResolvedPolicy) (*float64, *model.SpreadBand) {
	a, ok := finite(arv)
	if !ok {
		return nil, nil
	}
	if len(policy.MinSpreadBands) == 0 {
		u.needInfo("policy.min_spread_bands", "min_spread_bands",
			"Missing minimum spread ladder.", model.SourceTeamPolicySet)
		return nil, nil
	}
	for i := range policy.MinSpreadBands {
		band := &policy.MinSpreadBands[i]
		if a < band.MinARV {
			continue
		}
		if band.MaxARV != nil && a > *band.MaxARV {
			continue
		}
		min := band.MinSpreadDollars
		if pct, ok := finite(band.MinSpreadPctOfARV); ok {
			min = math.Max(min, round2(a*pct))
		}
		return ptr(min), band
	}
	return nil, nil
}

func (u *uw) timeline(out *Outputs, deal *model.Deal, domZip, carryMonths *float64, speedBand SpeedBand) {
	var daysToMoney *int
	if dom, ok := finite(domZip); ok {
		d := int(math.Max(0, math.Round(dom)))
		daysToMoney = &d
	}
	urgency := ""
	if daysToMoney != nil {
		switch {
		case *daysToMoney <= 14:
			urgency = "critical"
		case *daysToMoney <= 45:
			urgency = "elevated"
		default:
			urgency = "normal"
		}
	}
	out.Timeline = TimelineSummary{
		DaysToMoney: daysToMoney,
		CarryMonths: carryMonths,
		SpeedBand:   speedBand,
		Urgency:     urgency,
		AuctionDate: deal.Timeline.AuctionDate,
	}
}

// risk rolls individual status checks up to an overall gate: any fail fails
// the deal, any watch or info_needed caps it at watch.
func (u *uw) risk(out *Outputs, deal *model.Deal) {
	risk := RiskSummary{Reasons: []string{}}

	switch deal.Status.Insurability {
	case "bindable":
		risk.Insurability = "pass"
	case "":
		risk.Insurability = "info_needed"
		risk.Reasons = append(risk.Reasons, "insurability: info_needed")
	default:
		risk.Insurability = "watch"
		risk.Reasons = append(risk.Reasons, "insurability: watch")
	}

	if _, ok := finite(deal.Debt.Payoff); ok {
		risk.Payoff = "pass"
	} else {
		risk.Payoff = "info_needed"
		risk.Reasons = append(risk.Reasons, "payoff: info_needed")
	}

	switch {
	case deal.Status.TitleClear == nil:
		risk.Title = "info_needed"
		risk.Reasons = append(risk.Reasons, "title: info_needed")
	case *deal.Status.TitleClear:
		risk.Title = "pass"
	default:
		risk.Title = "watch"
		risk.Reasons = append(risk.Reasons, "title: watch")
	}

	statuses := []string{risk.Insurability, risk.Payoff, risk.Title}
	risk.Overall = "pass"
	for _, s := range statuses {
		if s == "fail" {
			risk.Overall = "fail"
			break
		}
		if s == "watch" || s == "info_needed" {
			risk.Overall = "watch"
		}
	}
	out.Risk = risk
}

// deref unwraps a *float64 for trace details; nil stays nil so the frame
// records the absence rather than a fake zero.
func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
