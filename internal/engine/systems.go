package engine

import "sort"

// SystemsInput holds install years for tracked property systems. A nil year
// means "unknown" and contributes zero urgency rather than a replacement
// flag.
type SystemsInput struct {
	RoofYearInstalled        *int `json:"roof_year_installed,omitempty"`
	HVACYearInstalled        *int `json:"hvac_year_installed,omitempty"`
	WaterHeaterYearInstalled *int `json:"water_heater_year_installed,omitempty"`
}

// SystemScore is the remaining-useful-life assessment for one system.
type SystemScore struct {
	System           string   `json:"system"`
	YearInstalled    *int     `json:"year_installed,omitempty"`
	AgeYears         *float64 `json:"age_years,omitempty"`
	RemainingYears   *float64 `json:"remaining_years,omitempty"`
	PctLifeRemaining *float64 `json:"pct_life_remaining,omitempty"`
	Condition        string   `json:"condition"` // good | fair | poor | critical | unknown
	NeedsReplacement bool     `json:"needs_replacement"`
	ReplacementCost  float64  `json:"replacement_cost"`
}

// SystemsResult aggregates per-system scores with replacement urgency.
type SystemsResult struct {
	Scores               map[string]SystemScore `json:"system_scores"`
	UrgentReplacements   []string               `json:"urgent_replacements,omitempty"`
	TotalReplacementCost float64                `json:"total_replacement_cost"`
}

// ComputeSystemsStatus computes remaining useful life per system:
//
//	age = max(0, referenceYear - yearInstalled)
//	rul = max(0, expectedLife - age)
//
// Condition bands are percentage-of-life-remaining thresholds from cfg.
// referenceYear is injected so the function never reads the wall clock; a
// future install year yields age 0 and full remaining life, never a
// negative age or a spurious "critical".
func ComputeSystemsStatus(in SystemsInput, referenceYear int, cfg SystemsConfig) SystemsResult {
	years := map[string]*int{
		"roof":         in.RoofYearInstalled,
		"hvac":         in.HVACYearInstalled,
		"water_heater": in.WaterHeaterYearInstalled,
	}

	result := SystemsResult{Scores: make(map[string]SystemScore, len(cfg.Systems))}

	names := make([]string, 0, len(cfg.Systems))
	for name := range cfg.Systems {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := cfg.Systems[name]
		score := scoreSystem(name, years[name], referenceYear, spec, cfg)
		result.Scores[name] = score
		if score.NeedsReplacement {
			result.UrgentReplacements = append(result.UrgentReplacements, name)
			result.TotalReplacementCost += score.ReplacementCost
		}
	}
	return result
}

func scoreSystem(name string, yearInstalled *int, referenceYear int, spec SystemSpec, cfg SystemsConfig) SystemScore {
	score := SystemScore{
		System:          name,
		ReplacementCost: spec.ReplacementCost,
		Condition:       "unknown",
	}
	if yearInstalled == nil {
		// Unknown install year: don't penalize, don't flag.
		return score
	}

	age := float64(referenceYear - *yearInstalled)
	if age < 0 {
		age = 0
	}
	rul := spec.ExpectedLifeYears - age
	if rul < 0 {
		rul = 0
	}
	pct := rul / spec.ExpectedLifeYears * 100

	score.YearInstalled = yearInstalled
	score.AgeYears = ptr(age)
	score.RemainingYears = ptr(rul)
	score.PctLifeRemaining = ptr(round2(pct))
	score.Condition = systemCondition(rul, pct, cfg)
	score.NeedsReplacement = rul <= cfg.UrgentMaxYears
	return score
}

func systemCondition(rul, pctRemaining float64, cfg SystemsConfig) string {
	switch {
	case rul <= 0:
		return "critical"
	case pctRemaining > cfg.GoodMinPct:
		return "good"
	case pctRemaining >= cfg.FairMinPct:
		return "fair"
	default:
		return "poor"
	}
}
