package domain

import "time"

// Venue identifies a simulated execution destination.
type Venue string

// Venue constants. Venues is the listing order used for tie-breaks.
const (
	VenueRaydium Venue = "raydium"
	VenueMeteora Venue = "meteora"
)

// Venues lists every supported venue in priority order.
var Venues = []Venue{VenueRaydium, VenueMeteora}

// Valid reports whether v is a supported venue.
func (v Venue) Valid() bool {
	return v == VenueRaydium || v == VenueMeteora
}

// Quote is a venue's offer for a single routing decision. Never persisted.
type Quote struct {
	Venue         Venue
	Price         float64       // tokenOut per tokenIn, after venue variance
	Fee           float64       // fraction, e.g. 0.003
	AmountOut     float64       // amountIn * price * (1 - fee)
	ExecutionTime time.Duration // estimated settlement time
}

// BestQuote is the winning quote plus every candidate it was compared with,
// in Venues order.
type BestQuote struct {
	Quote
	Candidates []Quote
}

// SwapResult is the outcome of a simulated settlement.
type SwapResult struct {
	TxHash          string  // 0x-prefixed 32-byte hex
	ExecutedPrice   float64 // ActualAmountOut / amountIn
	ActualAmountOut float64 // expected amount less slippage
}
