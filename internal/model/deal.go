package model

// Posture selects which band of policy defaults applies to a run.
type Posture string

const (
	PostureConservative Posture = "conservative"
	PostureBase         Posture = "base"
	PostureAggressive   Posture = "aggressive"
)

// ValidPosture reports whether p is one of the known postures.
func ValidPosture(p Posture) bool {
	switch p {
	case PostureConservative, PostureBase, PostureAggressive:
		return true
	}
	return false
}

// Postures lists every valid posture, in escalation order.
func Postures() []Posture {
	return []Posture{PostureConservative, PostureBase, PostureAggressive}
}

// Deal is a property/seller fact sheet. It is an immutable input to the
// engine: computations never write back into it. Nullable numeric facts are
// pointers; nil means "not yet known", which the engine surfaces as an
// info-needed entry rather than a default.
type Deal struct {
	ID       string      `json:"id,omitempty"`
	OrgID    string      `json:"org_id,omitempty"`
	Market   Market      `json:"market"`
	Costs    Costs       `json:"costs"`
	Debt     Debt        `json:"debt"`
	Timeline Timeline    `json:"timeline"`
	Status   StatusFlags `json:"status"`
}

// Market holds valuation and market-velocity facts.
type Market struct {
	AIV           *float64 `json:"aiv,omitempty"`            // as-is value
	ARV           *float64 `json:"arv,omitempty"`            // after-repair value
	DOMZip        *float64 `json:"dom_zip,omitempty"`        // days on market, zip median
	MOIZip        *float64 `json:"moi_zip,omitempty"`        // months of inventory, zip
	ZipPercentile *float64 `json:"zip_percentile,omitempty"` // zip liquidity percentile (0-100)
}

// Costs holds repair and carrying cost assumptions.
type Costs struct {
	RepairsBase    *float64 `json:"repairs_base,omitempty"`
	ContingencyPct *float64 `json:"contingency_pct,omitempty"`
	RepairClass    string   `json:"repair_class,omitempty"` // cosmetic | moderate | heavy
	MonthlyCarry   *float64 `json:"monthly_carry,omitempty"`
	MoveOutCash    *float64 `json:"move_out_cash,omitempty"`
}

// Lien is a junior encumbrance on the property.
type Lien struct {
	Holder   string  `json:"holder,omitempty"`
	Amount   float64 `json:"amount"`
	Position int     `json:"position,omitempty"`
}

// Debt holds the deal's debt structure.
type Debt struct {
	Payoff          *float64 `json:"payoff,omitempty"` // payoff at close, if quoted
	SeniorPrincipal *float64 `json:"senior_principal,omitempty"`
	JuniorLiens     []Lien   `json:"junior_liens,omitempty"`
}

// Timeline holds the deal's schedule assumptions. Dates are ISO-8601 strings
// as supplied by intake; the engine only passes them through.
type Timeline struct {
	DaysToList       *float64 `json:"days_to_list,omitempty"`
	ManualDaysToSale *float64 `json:"manual_days_to_sale,omitempty"`
	AuctionDate      string   `json:"auction_date,omitempty"`
}

// StatusFlags holds deal-level status indicators.
type StatusFlags struct {
	Insurability string `json:"insurability,omitempty"` // bindable | conditional | declined
	TitleClear   *bool  `json:"title_clear,omitempty"`
}
