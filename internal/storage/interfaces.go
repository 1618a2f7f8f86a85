package storage

import (
	"context"

	"solana-order-router/internal/domain"
)

// OrderStore provides access to orders storage. It is the durable source of
// truth for order state; live pushes may run ahead of it.
type OrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
	Insert(ctx context.Context, o *domain.Order) error

	// Update writes the non-nil members of u and stamps updated_at.
	// Returns ErrNotFound if order_id does not exist and ErrOrderTerminal if
	// the stored status is confirmed or failed.
	Update(ctx context.Context, orderID string, u domain.OrderUpdate) error

	// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// ListNonTerminal retrieves every order that is neither confirmed nor
	// failed, ordered by created_at ASC.
	ListNonTerminal(ctx context.Context) ([]*domain.Order, error)
}

// RoutingDecisionStore provides access to routing_decisions storage.
type RoutingDecisionStore interface {
	// Insert adds a new decision. Returns ErrDuplicateKey if decision_id exists.
	Insert(ctx context.Context, d *domain.RoutingDecision) error

	// GetByOrderID retrieves all decisions for an order, ordered by decided_at ASC.
	GetByOrderID(ctx context.Context, orderID string) ([]*domain.RoutingDecision, error)
}
