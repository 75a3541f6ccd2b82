// Package engine implements the deterministic underwriting core and its
// rule evaluators. Every function here is pure: no I/O, no clock reads, no
// shared state, so concurrent invocations need no coordination.
package engine

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Version stamps run envelopes so stored runs can be traced back to the
// arithmetic that produced them.
const Version = "1.4.0"

// MotivationConfig holds the seller motivation scoring tables and level
// thresholds. All values are policy constants, overridable via config.
type MotivationConfig struct {
	ReasonScores         map[string]float64 `yaml:"reason_scores" mapstructure:"reason_scores"`
	TimelineMultipliers  map[string]float64 `yaml:"timeline_multipliers" mapstructure:"timeline_multipliers"`
	DecisionMakerFactors map[string]float64 `yaml:"decision_maker_factors" mapstructure:"decision_maker_factors"`
	DefaultBaseScore     float64            `yaml:"default_base_score" mapstructure:"default_base_score"`
	DistressBonus        float64            `yaml:"distress_bonus" mapstructure:"distress_bonus"`
	MaxForeclosureBoost  float64            `yaml:"max_foreclosure_boost" mapstructure:"max_foreclosure_boost"`
	MediumMin            float64            `yaml:"medium_min" mapstructure:"medium_min"`
	HighMin              float64            `yaml:"high_min" mapstructure:"high_min"`
	CriticalMin          float64            `yaml:"critical_min" mapstructure:"critical_min"`
}

// SystemSpec describes one property system's expected life and replacement
// cost.
type SystemSpec struct {
	ExpectedLifeYears float64 `yaml:"expected_life_years" mapstructure:"expected_life_years"`
	ReplacementCost   float64 `yaml:"replacement_cost" mapstructure:"replacement_cost"`
}

// SystemsConfig holds per-system lifetimes and the condition band
// thresholds, expressed as percentage of expected life remaining.
type SystemsConfig struct {
	Systems        map[string]SystemSpec `yaml:"systems" mapstructure:"systems"`
	GoodMinPct     float64               `yaml:"good_min_pct" mapstructure:"good_min_pct"`
	FairMinPct     float64               `yaml:"fair_min_pct" mapstructure:"fair_min_pct"`
	UrgentMaxYears float64               `yaml:"urgent_max_years" mapstructure:"urgent_max_years"`
}

// LienRiskConfig holds the lien exposure thresholds.
type LienRiskConfig struct {
	WarningThreshold  float64 `yaml:"warning_threshold" mapstructure:"warning_threshold"`
	HighThreshold     float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
	BlockingThreshold float64 `yaml:"blocking_threshold" mapstructure:"blocking_threshold"`
}

// ForeclosureConfig holds timeline urgency thresholds (days until sale) and
// the per-urgency motivation boost.
type ForeclosureConfig struct {
	CriticalMaxDays int                `yaml:"critical_max_days" mapstructure:"critical_max_days"`
	HighMaxDays     int                `yaml:"high_max_days" mapstructure:"high_max_days"`
	MediumMaxDays   int                `yaml:"medium_max_days" mapstructure:"medium_max_days"`
	MotivationBoost map[string]float64 `yaml:"motivation_boost" mapstructure:"motivation_boost"`
}

// Config bundles every evaluator's constants.
type Config struct {
	Motivation  MotivationConfig  `yaml:"motivation" mapstructure:"motivation"`
	Systems     SystemsConfig     `yaml:"systems" mapstructure:"systems"`
	LienRisk    LienRiskConfig    `yaml:"lien_risk" mapstructure:"lien_risk"`
	Foreclosure ForeclosureConfig `yaml:"foreclosure" mapstructure:"foreclosure"`
}

// DefaultConfig returns the stock evaluator constants.
func DefaultConfig() Config {
	return Config{
		Motivation:  DefaultMotivationConfig(),
		Systems:     DefaultSystemsConfig(),
		LienRisk:    DefaultLienRiskConfig(),
		Foreclosure: DefaultForeclosureConfig(),
	}
}

// DefaultMotivationConfig returns the stock motivation scoring tables.
func DefaultMotivationConfig() MotivationConfig {
	return MotivationConfig{
		ReasonScores: map[string]float64{
			"foreclosure":        100,
			"pre_foreclosure":    90,
			"financial_distress": 85,
			"tax_lien":           85,
			"divorce":            80,
			"job_loss":           80,
			"code_violations":    75,
			"probate":            70,
			"health_issues":      70,
			"tired_landlord":     60,
			"inherited":          55,
			"relocation":         50,
			"downsizing":         40,
			"other":              30,
		},
		TimelineMultipliers: map[string]float64{
			"immediate":      1.5,
			"urgent":         1.3,
			"flexible":       1.0,
			"no_rush":        0.7,
			"testing_market": 0.3,
		},
		DecisionMakerFactors: map[string]float64{
			"sole_owner":        1.0,
			"joint_decision":    0.9,
			"power_of_attorney": 0.85,
			"estate_executor":   0.8,
			"unknown":           0.7,
			"multiple_parties":  0.6,
		},
		DefaultBaseScore:    50,
		DistressBonus:       10,
		MaxForeclosureBoost: 25,
		MediumMin:           40,
		HighMin:             65,
		CriticalMin:         85,
	}
}

// DefaultSystemsConfig returns the stock system lifetimes (Central FL
// climate assumptions) and condition bands.
func DefaultSystemsConfig() SystemsConfig {
	return SystemsConfig{
		Systems: map[string]SystemSpec{
			"roof":         {ExpectedLifeYears: 25, ReplacementCost: 15000},
			"hvac":         {ExpectedLifeYears: 15, ReplacementCost: 8000},
			"water_heater": {ExpectedLifeYears: 12, ReplacementCost: 1500},
		},
		GoodMinPct:     40,
		FairMinPct:     20,
		UrgentMaxYears: 2,
	}
}

// DefaultLienRiskConfig returns the stock lien exposure thresholds.
func DefaultLienRiskConfig() LienRiskConfig {
	return LienRiskConfig{
		WarningThreshold:  2500,
		HighThreshold:     5000,
		BlockingThreshold: 10000,
	}
}

// DefaultForeclosureConfig returns the stock urgency thresholds and boosts.
func DefaultForeclosureConfig() ForeclosureConfig {
	return ForeclosureConfig{
		CriticalMaxDays: 30,
		HighMaxDays:     60,
		MediumMaxDays:   120,
		MotivationBoost: map[string]float64{
			"none":     0,
			"low":      5,
			"medium":   10,
			"high":     15,
			"critical": 25,
		},
	}
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	if c.Motivation.MediumMin >= c.Motivation.HighMin || c.Motivation.HighMin >= c.Motivation.CriticalMin {
		errs = append(errs, "motivation level thresholds must be strictly increasing")
	}
	if c.Motivation.MaxForeclosureBoost < 0 {
		errs = append(errs, "max_foreclosure_boost must be >= 0")
	}
	if c.Systems.FairMinPct <= 0 || c.Systems.GoodMinPct <= c.Systems.FairMinPct {
		errs = append(errs, "systems condition bands must satisfy 0 < fair_min_pct < good_min_pct")
	}
	for name, spec := range c.Systems.Systems {
		if spec.ExpectedLifeYears <= 0 {
			errs = append(errs, fmt.Sprintf("system %s expected_life_years must be > 0", name))
		}
	}
	if !(c.LienRisk.WarningThreshold < c.LienRisk.HighThreshold && c.LienRisk.HighThreshold < c.LienRisk.BlockingThreshold) {
		errs = append(errs, "lien thresholds must be strictly increasing")
	}
	if !(c.Foreclosure.CriticalMaxDays < c.Foreclosure.HighMaxDays && c.Foreclosure.HighMaxDays < c.Foreclosure.MediumMaxDays) {
		errs = append(errs, "foreclosure urgency thresholds must be strictly increasing")
	}

	if len(errs) > 0 {
		return eris.Errorf("engine: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
