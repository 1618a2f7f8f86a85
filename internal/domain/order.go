package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// OrderStatus is the lifecycle position of an order.
type OrderStatus string

// Order status constants, in forward order.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusRouting   OrderStatus = "routing"
	OrderStatusBuilding  OrderStatus = "building"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"
)

// statusRank orders the success path. Failed has no rank; it is reachable
// from any non-terminal status.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusRouting:   1,
	OrderStatusBuilding:  2,
	OrderStatusSubmitted: 3,
	OrderStatusConfirmed: 4,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s on the success path, or -1 for failed and
// unknown statuses.
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed
}

// CanTransitionTo reports whether next directly follows s.
// The success path advances exactly one step; failed is reachable from
// every non-terminal status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == OrderStatusFailed {
		return true
	}
	return next.Rank() == s.Rank()+1
}

// ErrValidation is returned for malformed order submissions.
var ErrValidation = errors.New("invalid order request")

// Order is a request to convert AmountIn of TokenIn into TokenOut.
// Corresponds to the orders table in PostgreSQL.
type Order struct {
	OrderID       string      // unique, also the job dedup key
	UserID        *string     // optional submitter reference
	TokenIn       string      // input token symbol or mint
	TokenOut      string      // output token symbol or mint
	AmountIn      float64     // > 0
	AmountOut     *float64    // quoted, then settled output amount
	ExecutedPrice *float64    // actualAmountOut / amountIn
	Status        OrderStatus // lifecycle status
	VenueUsed     *Venue      // venue chosen by routing
	TxHash        *string     // set only on confirmation
	ErrorMessage  *string     // set only on failure
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderRequest is an order submission before an id is assigned.
type OrderRequest struct {
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	AmountIn float64 `json:"amountIn"`
	UserID   *string `json:"userId,omitempty"`
}

// Validate checks the request and returns an error wrapping ErrValidation.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.TokenIn) == "" {
		return fmt.Errorf("%w: tokenIn is required", ErrValidation)
	}
	if strings.TrimSpace(r.TokenOut) == "" {
		return fmt.Errorf("%w: tokenOut is required", ErrValidation)
	}
	if math.IsNaN(r.AmountIn) || math.IsInf(r.AmountIn, 0) || r.AmountIn <= 0 {
		return fmt.Errorf("%w: amountIn must be a positive number", ErrValidation)
	}
	return nil
}

// NewOrder creates a pending order from a validated request.
func NewOrder(orderID string, r OrderRequest, now time.Time) *Order {
	return &Order{
		OrderID:   orderID,
		UserID:    r.UserID,
		TokenIn:   strings.TrimSpace(r.TokenIn),
		TokenOut:  strings.TrimSpace(r.TokenOut),
		AmountIn:  r.AmountIn,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// OrderUpdate is the set of columns written by one status transition.
// Nil members are left untouched by the store.
type OrderUpdate struct {
	Status        OrderStatus
	VenueUsed     *Venue
	AmountOut     *float64
	ExecutedPrice *float64
	TxHash        *string
	ErrorMessage  *string
}

// RoutingUpdate marks the start of venue comparison.
func RoutingUpdate() OrderUpdate {
	return OrderUpdate{Status: OrderStatusRouting}
}

// BuildingUpdate records the chosen venue and its quoted output.
func BuildingUpdate(venue Venue, quotedAmountOut float64) OrderUpdate {
	return OrderUpdate{
		Status:    OrderStatusBuilding,
		VenueUsed: &venue,
		AmountOut: &quotedAmountOut,
	}
}

// SubmittedUpdate marks the transaction as sent to the network.
func SubmittedUpdate(venue Venue) OrderUpdate {
	return OrderUpdate{
		Status:    OrderStatusSubmitted,
		VenueUsed: &venue,
	}
}

// ConfirmedUpdate records the settled swap.
func ConfirmedUpdate(venue Venue, result SwapResult) OrderUpdate {
	txHash := result.TxHash
	price := result.ExecutedPrice
	amountOut := result.ActualAmountOut
	return OrderUpdate{
		Status:        OrderStatusConfirmed,
		VenueUsed:     &venue,
		AmountOut:     &amountOut,
		ExecutedPrice: &price,
		TxHash:        &txHash,
	}
}

// FailedUpdate records the failure reason.
func FailedUpdate(message string) OrderUpdate {
	return OrderUpdate{
		Status:       OrderStatusFailed,
		ErrorMessage: &message,
	}
}

// Apply copies the update onto o and stamps UpdatedAt.
func (u OrderUpdate) Apply(o *Order, now time.Time) {
	o.Status = u.Status
	if u.VenueUsed != nil {
		v := *u.VenueUsed
		o.VenueUsed = &v
	}
	if u.AmountOut != nil {
		v := *u.AmountOut
		o.AmountOut = &v
	}
	if u.ExecutedPrice != nil {
		v := *u.ExecutedPrice
		o.ExecutedPrice = &v
	}
	if u.TxHash != nil {
		v := *u.TxHash
		o.TxHash = &v
	}
	if u.ErrorMessage != nil {
		v := *u.ErrorMessage
		o.ErrorMessage = &v
	}
	o.UpdatedAt = now
}

// StatusUpdate is pushed to a live subscriber on every transition.
type StatusUpdate struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	Message       string      `json:"message,omitempty"`
	VenueUsed     *Venue      `json:"venueUsed,omitempty"`
	TxHash        *string     `json:"txHash,omitempty"`
	ExecutedPrice *float64    `json:"executedPrice,omitempty"`
	Error         string      `json:"error,omitempty"`
}
