package engine

// MotivationInput is the seller-situation record the motivation score
// consumes. Enum fields use "" for "not provided"; ForeclosureBoost usually
// comes from ComputeForeclosureTimeline.
type MotivationInput struct {
	ReasonForSelling    string   `json:"reason_for_selling,omitempty"`
	SellerTimeline      string   `json:"seller_timeline,omitempty"`
	DecisionMakerStatus string   `json:"decision_maker_status,omitempty"`
	MortgageDelinquent  *bool    `json:"mortgage_delinquent,omitempty"`
	ForeclosureBoost    *float64 `json:"foreclosure_boost,omitempty"`
}

// MotivationBreakdown exposes every factor that went into the score.
type MotivationBreakdown struct {
	BaseScore           float64 `json:"base_score"`
	TimelineMultiplier  float64 `json:"timeline_multiplier"`
	DecisionMakerFactor float64 `json:"decision_maker_factor"`
	DistressBonus       float64 `json:"distress_bonus"`
	ForeclosureBoost    float64 `json:"foreclosure_boost"`
}

// MotivationResult is the scored output with its full breakdown.
type MotivationResult struct {
	Score      int                 `json:"motivation_score"`
	Level      string              `json:"motivation_level"` // low | medium | high | critical
	Confidence string              `json:"confidence"`       // low | medium | high
	RedFlags   []string            `json:"red_flags,omitempty"`
	Breakdown  MotivationBreakdown `json:"breakdown"`
}

// ComputeMotivationScore scores seller motivation:
//
//	raw = base(reason) * timelineMult * decisionFactor + distressBonus + boost
//
// with the foreclosure boost sanitized into [0, MaxForeclosureBoost] before
// use and the final score rounded and clamped to [0, 100]. Pure and
// deterministic; malformed numerics are clamped, never rejected.
func ComputeMotivationScore(in MotivationInput, cfg MotivationConfig) MotivationResult {
	base := cfg.DefaultBaseScore
	if in.ReasonForSelling != "" {
		if v, ok := cfg.ReasonScores[in.ReasonForSelling]; ok {
			base = v
		}
	}

	timelineMult := 1.0
	if in.SellerTimeline != "" {
		if v, ok := cfg.TimelineMultipliers[in.SellerTimeline]; ok {
			timelineMult = v
		}
	}

	decisionFactor := 1.0
	if in.DecisionMakerStatus != "" {
		if v, ok := cfg.DecisionMakerFactors[in.DecisionMakerStatus]; ok {
			decisionFactor = v
		}
	}

	distress := 0.0
	if in.MortgageDelinquent != nil && *in.MortgageDelinquent {
		distress = cfg.DistressBonus
	}

	boost := sanitize(in.ForeclosureBoost, 0, 0, cfg.MaxForeclosureBoost)

	raw := base*timelineMult*decisionFactor + distress + boost
	score := clampInt(raw, 0, 100)

	return MotivationResult{
		Score:      score,
		Level:      motivationLevel(float64(score), cfg),
		Confidence: motivationConfidence(in),
		RedFlags:   motivationRedFlags(in),
		Breakdown: MotivationBreakdown{
			BaseScore:           base,
			TimelineMultiplier:  timelineMult,
			DecisionMakerFactor: decisionFactor,
			DistressBonus:       distress,
			ForeclosureBoost:    boost,
		},
	}
}

func motivationLevel(score float64, cfg MotivationConfig) string {
	switch {
	case score >= cfg.CriticalMin:
		return "critical"
	case score >= cfg.HighMin:
		return "high"
	case score >= cfg.MediumMin:
		return "medium"
	default:
		return "low"
	}
}

// motivationConfidence grades data completeness over the four key fields.
func motivationConfidence(in MotivationInput) string {
	provided := 0
	if in.ReasonForSelling != "" {
		provided++
	}
	if in.SellerTimeline != "" {
		provided++
	}
	if in.DecisionMakerStatus != "" {
		provided++
	}
	if in.MortgageDelinquent != nil {
		provided++
	}

	ratio := float64(provided) / 4
	switch {
	case ratio >= 0.75:
		return "high"
	case ratio >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func motivationRedFlags(in MotivationInput) []string {
	var flags []string
	if in.SellerTimeline == "testing_market" {
		flags = append(flags, "Seller may just be testing the market")
	}
	if in.SellerTimeline == "no_rush" {
		flags = append(flags, "No closing urgency - low motivation")
	}
	if in.DecisionMakerStatus == "multiple_parties" {
		flags = append(flags, "Multiple decision makers - harder to close")
	}
	if in.DecisionMakerStatus == "unknown" {
		flags = append(flags, "Decision maker status unknown - verify authority")
	}
	return flags
}
