package domain

import "github.com/shopspring/decimal"

// RoutingDecision is the audit record of one two-venue comparison.
// Corresponds to routing_decisions table in ClickHouse.
type RoutingDecision struct {
	DecisionID string // deterministic hash, see idhash.ComputeDecisionID
	OrderID    string
	TokenIn    string
	TokenOut   string
	AmountIn   float64

	RaydiumPrice     float64
	RaydiumFee       float64
	RaydiumAmountOut float64
	MeteoraPrice     float64
	MeteoraFee       float64
	MeteoraAmountOut float64

	ChosenVenue   Venue
	DifferenceAbs float64 // |raydium - meteora| amountOut
	DifferencePct float64 // DifferenceAbs / max(amountOut) * 100
	DecidedAt     int64   // Unix timestamp in milliseconds
}

// NewRoutingDecision builds a decision from a best quote. The id is left
// empty for the caller to assign.
func NewRoutingDecision(order *Order, best BestQuote, decidedAt int64) *RoutingDecision {
	d := &RoutingDecision{
		OrderID:     order.OrderID,
		TokenIn:     order.TokenIn,
		TokenOut:    order.TokenOut,
		AmountIn:    order.AmountIn,
		ChosenVenue: best.Venue,
		DecidedAt:   decidedAt,
	}

	for _, q := range best.Candidates {
		switch q.Venue {
		case VenueRaydium:
			d.RaydiumPrice, d.RaydiumFee, d.RaydiumAmountOut = q.Price, q.Fee, q.AmountOut
		case VenueMeteora:
			d.MeteoraPrice, d.MeteoraFee, d.MeteoraAmountOut = q.Price, q.Fee, q.AmountOut
		}
	}

	diff, pct := QuoteDifference(d.RaydiumAmountOut, d.MeteoraAmountOut)
	d.DifferenceAbs, _ = diff.Float64()
	d.DifferencePct, _ = pct.Float64()
	return d
}

// QuoteDifference returns the absolute difference between two output amounts
// and that difference as a percentage of the larger one.
func QuoteDifference(a, b float64) (abs, pct decimal.Decimal) {
	da := decimal.NewFromFloat(a)
	db := decimal.NewFromFloat(b)
	abs = da.Sub(db).Abs()

	larger := decimal.Max(da, db)
	if larger.IsZero() {
		return abs, decimal.Zero
	}
	pct = abs.Div(larger).Mul(decimal.NewFromInt(100))
	return abs, pct
}
