package engine

// LienAccountStatus tracks where an HOA/CDD/tax account stands.
type LienAccountStatus string

const (
	LienStatusCurrent       LienAccountStatus = "current"
	LienStatusDelinquent    LienAccountStatus = "delinquent"
	LienStatusUnknown       LienAccountStatus = "unknown"
	LienStatusNotApplicable LienAccountStatus = "not_applicable"
)

// LienRiskInput holds the lien exposure facts for one property.
type LienRiskInput struct {
	HOAStatus             LienAccountStatus `json:"hoa_status,omitempty"`
	HOAArrears            *float64          `json:"hoa_arrears,omitempty"`
	CDDStatus             LienAccountStatus `json:"cdd_status,omitempty"`
	CDDArrears            *float64          `json:"cdd_arrears,omitempty"`
	PropertyTaxStatus     LienAccountStatus `json:"property_tax_status,omitempty"`
	PropertyTaxArrears    *float64          `json:"property_tax_arrears,omitempty"`
	MunicipalLiensPresent bool              `json:"municipal_liens_present,omitempty"`
	MunicipalLienAmount   *float64          `json:"municipal_lien_amount,omitempty"`
	TitleSearchCompleted  bool              `json:"title_search_completed,omitempty"`
}

// LienBreakdown itemizes surviving liens by category.
type LienBreakdown struct {
	HOA         float64 `json:"hoa"`
	CDD         float64 `json:"cdd"`
	PropertyTax float64 `json:"property_tax"`
	Municipal   float64 `json:"municipal"`
}

// LienRiskResult is the scored lien exposure assessment.
type LienRiskResult struct {
	TotalSurvivingLiens    float64       `json:"total_surviving_liens"`
	RiskLevel              string        `json:"risk_level"` // low | medium | high | critical
	JointLiabilityWarning  bool          `json:"joint_liability_warning"`
	JointLiabilityStatute  string        `json:"joint_liability_statute,omitempty"`
	BlockingGateTriggered  bool          `json:"blocking_gate_triggered"`
	NetClearanceAdjustment float64       `json:"net_clearance_adjustment"`
	EvidenceNeeded         []string      `json:"evidence_needed,omitempty"`
	Breakdown              LienBreakdown `json:"breakdown"`
}

// ComputeLienRisk totals surviving liens and grades the exposure. Nil,
// NaN, and negative amounts sanitize to zero: liens cannot be negative,
// and unknown amounts don't penalize.
func ComputeLienRisk(in LienRiskInput, cfg LienRiskConfig) LienRiskResult {
	hoa := nonNegative(in.HOAArrears)
	cdd := nonNegative(in.CDDArrears)
	tax := nonNegative(in.PropertyTaxArrears)
	municipal := nonNegative(in.MunicipalLienAmount)

	total := hoa + cdd + tax + municipal

	result := LienRiskResult{
		TotalSurvivingLiens:   total,
		RiskLevel:             lienRiskLevel(total, cfg),
		BlockingGateTriggered: total > cfg.BlockingThreshold,
		Breakdown: LienBreakdown{
			HOA:         hoa,
			CDD:         cdd,
			PropertyTax: tax,
			Municipal:   municipal,
		},
	}

	// HOA/CDD arrears transfer to the buyer at closing (FL 720.3085 joint
	// and several liability).
	if hoa > 0 || cdd > 0 {
		result.JointLiabilityWarning = true
		result.JointLiabilityStatute = "FL 720.3085"
	}

	if total > 0 {
		result.NetClearanceAdjustment = -total
	}

	result.EvidenceNeeded = lienEvidenceNeeded(in)
	return result
}

func lienRiskLevel(total float64, cfg LienRiskConfig) string {
	switch {
	case total > cfg.BlockingThreshold:
		return "critical"
	case total > cfg.HighThreshold:
		return "high"
	case total > cfg.WarningThreshold:
		return "medium"
	default:
		return "low"
	}
}

func lienEvidenceNeeded(in LienRiskInput) []string {
	var needed []string
	if !in.TitleSearchCompleted {
		needed = append(needed, "Title search")
	}
	if in.HOAStatus == LienStatusUnknown {
		needed = append(needed, "HOA status verification")
	}
	if in.CDDStatus == LienStatusUnknown {
		needed = append(needed, "CDD status verification")
	}
	if in.PropertyTaxStatus == LienStatusUnknown {
		needed = append(needed, "Property tax status verification")
	}
	if in.MunicipalLiensPresent && in.MunicipalLienAmount == nil {
		needed = append(needed, "Municipal lien amount verification")
	}
	return needed
}
