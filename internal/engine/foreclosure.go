package engine

import (
	"strings"
	"time"
)

// ForeclosureStatus is the stage of the foreclosure process.
type ForeclosureStatus string

const (
	ForeclosureNone          ForeclosureStatus = "none"
	ForeclosurePre           ForeclosureStatus = "pre_foreclosure"
	ForeclosureLisPendens    ForeclosureStatus = "lis_pendens_filed"
	ForeclosureJudgment      ForeclosureStatus = "judgment_entered"
	ForeclosureSaleScheduled ForeclosureStatus = "sale_scheduled"
	ForeclosureRedemption    ForeclosureStatus = "post_sale_redemption"
	ForeclosureREO           ForeclosureStatus = "reo_bank_owned"
	ForeclosureUnknown       ForeclosureStatus = "unknown"
)

// foreclosureStage describes one stage of the FL judicial foreclosure
// process: its timeline position, typical dwell time, statute, and default
// urgency when no sale date can be estimated.
type foreclosureStage struct {
	Position    string
	TypicalDays int // 0 means open-ended
	StatuteRef  string
	Urgency     string
}

var foreclosureStages = map[ForeclosureStatus]foreclosureStage{
	ForeclosureNone:          {Position: "not_in_foreclosure", Urgency: "none"},
	ForeclosurePre:           {Position: "pre_foreclosure", TypicalDays: 90, StatuteRef: "FL 702.10", Urgency: "medium"},
	ForeclosureLisPendens:    {Position: "lis_pendens", TypicalDays: 180, StatuteRef: "FL 702.10(1)", Urgency: "high"},
	ForeclosureJudgment:      {Position: "judgment", TypicalDays: 45, StatuteRef: "FL 702.10(5)", Urgency: "high"},
	ForeclosureSaleScheduled: {Position: "sale_scheduled", TypicalDays: 30, StatuteRef: "FL 45.031(1)", Urgency: "critical"},
	ForeclosureRedemption:    {Position: "redemption_period", TypicalDays: 10, StatuteRef: "FL 45.0315", Urgency: "critical"},
	ForeclosureREO:           {Position: "reo_bank_owned", Urgency: "none"},
	ForeclosureUnknown:       {Position: "pre_foreclosure", Urgency: "medium"},
}

// ForeclosureInput holds a deal's foreclosure facts. Dates are ISO-8601
// (YYYY-MM-DD) strings; blank or unparseable dates are treated as unknown.
type ForeclosureInput struct {
	Status                 ForeclosureStatus `json:"foreclosure_status,omitempty"`
	DaysDelinquent         *float64          `json:"days_delinquent,omitempty"`
	FirstMissedPaymentDate string            `json:"first_missed_payment_date,omitempty"`
	LisPendensDate         string            `json:"lis_pendens_date,omitempty"`
	JudgmentDate           string            `json:"judgment_date,omitempty"`
	AuctionDate            string            `json:"auction_date,omitempty"`
}

// ForeclosureKeyDates echoes the process dates for display.
type ForeclosureKeyDates struct {
	FirstMissedPayment string `json:"first_missed_payment,omitempty"`
	LisPendensFiled    string `json:"lis_pendens_filed,omitempty"`
	JudgmentEntered    string `json:"judgment_entered,omitempty"`
	AuctionScheduled   string `json:"auction_scheduled,omitempty"`
}

// ForeclosureResult is the assessed timeline position and urgency.
type ForeclosureResult struct {
	TimelinePosition      string              `json:"timeline_position"`
	DaysUntilSale         *int                `json:"days_until_estimated_sale,omitempty"`
	UrgencyLevel          string              `json:"urgency_level"`
	SellerMotivationBoost float64             `json:"seller_motivation_boost"`
	StatuteReference      string              `json:"statute_reference,omitempty"`
	AuctionDateSource     string              `json:"auction_date_source"` // confirmed | estimated | unknown
	KeyDates              ForeclosureKeyDates `json:"key_dates"`
}

// ComputeForeclosureTimeline maps foreclosure facts to a timeline position,
// days-until-sale estimate, and urgency. referenceDate is injected so the
// function never reads the wall clock. A confirmed auction date wins over
// stage-based estimation; an unknown status degrades to medium urgency
// rather than failing.
func ComputeForeclosureTimeline(in ForeclosureInput, referenceDate time.Time, cfg ForeclosureConfig) ForeclosureResult {
	status := in.Status
	if status == "" {
		status = ForeclosureUnknown
	}
	stage, ok := foreclosureStages[status]
	if !ok {
		status = ForeclosureUnknown
		stage = foreclosureStages[ForeclosureUnknown]
	}

	result := ForeclosureResult{
		TimelinePosition:  stage.Position,
		StatuteReference:  stage.StatuteRef,
		AuctionDateSource: "unknown",
		KeyDates: ForeclosureKeyDates{
			FirstMissedPayment: in.FirstMissedPaymentDate,
			LisPendensFiled:    in.LisPendensDate,
			JudgmentEntered:    in.JudgmentDate,
			AuctionScheduled:   in.AuctionDate,
		},
	}

	if auction, ok := parseISODate(in.AuctionDate); ok {
		days := daysBetween(referenceDate, auction)
		result.DaysUntilSale = &days
		result.AuctionDateSource = "confirmed"
	} else if stage.TypicalDays > 0 {
		if days, ok := estimateDaysUntilSale(status, in, referenceDate); ok {
			result.DaysUntilSale = &days
			result.AuctionDateSource = "estimated"
		}
	}

	result.UrgencyLevel = foreclosureUrgency(status, result.DaysUntilSale, cfg)
	result.SellerMotivationBoost = cfg.MotivationBoost[result.UrgencyLevel]
	return result
}

// estimateDaysUntilSale accumulates the typical remaining days across the
// stages between the current one and the sale, crediting time already spent
// in the current stage when its start date is known.
func estimateDaysUntilSale(status ForeclosureStatus, in ForeclosureInput, ref time.Time) (int, bool) {
	stage := foreclosureStages[status]
	if stage.TypicalDays == 0 {
		return 0, false
	}

	daysInStage := 0
	switch status {
	case ForeclosureLisPendens:
		if d, ok := parseISODate(in.LisPendensDate); ok {
			daysInStage = max(0, daysBetween(d, ref))
		}
	case ForeclosureJudgment:
		if d, ok := parseISODate(in.JudgmentDate); ok {
			daysInStage = max(0, daysBetween(d, ref))
		}
	}

	total := max(0, stage.TypicalDays-daysInStage)
	switch status {
	case ForeclosurePre:
		total += foreclosureStages[ForeclosureLisPendens].TypicalDays
		total += foreclosureStages[ForeclosureJudgment].TypicalDays
		total += foreclosureStages[ForeclosureSaleScheduled].TypicalDays
	case ForeclosureLisPendens:
		total += foreclosureStages[ForeclosureJudgment].TypicalDays
		total += foreclosureStages[ForeclosureSaleScheduled].TypicalDays
	case ForeclosureJudgment:
		total += foreclosureStages[ForeclosureSaleScheduled].TypicalDays
	}
	return total, true
}

func foreclosureUrgency(status ForeclosureStatus, daysUntilSale *int, cfg ForeclosureConfig) string {
	if status == ForeclosureNone || status == ForeclosureREO {
		return "none"
	}
	if daysUntilSale == nil {
		return foreclosureStages[status].Urgency
	}
	d := *daysUntilSale
	switch {
	case d <= cfg.CriticalMaxDays: // past-due sale dates stay critical
		return "critical"
	case d <= cfg.HighMaxDays:
		return "high"
	case d <= cfg.MediumMaxDays:
		return "medium"
	default:
		return "low"
	}
}

func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
