package clickhouse

import (
	"context"
	"fmt"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
)

// RoutingDecisionStore implements storage.RoutingDecisionStore using ClickHouse.
type RoutingDecisionStore struct {
	conn *Conn
}

// NewRoutingDecisionStore creates a new RoutingDecisionStore.
func NewRoutingDecisionStore(conn *Conn) *RoutingDecisionStore {
	return &RoutingDecisionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RoutingDecisionStore = (*RoutingDecisionStore)(nil)

const routingDecisionColumns = `
	decision_id, order_id, token_in, token_out, amount_in,
	raydium_price, raydium_fee, raydium_amount_out,
	meteora_price, meteora_fee, meteora_amount_out,
	chosen_venue, difference_abs, difference_pct, decided_at
`

// Insert adds a decision. Returns ErrDuplicateKey if decision_id exists.
func (s *RoutingDecisionStore) Insert(ctx context.Context, d *domain.RoutingDecision) error {
	if d == nil || d.DecisionID == "" || d.OrderID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would collapse a replay, but callers expect append-only semantics
	exists, err := s.exists(ctx, d.DecisionID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `INSERT INTO routing_decisions (` + routingDecisionColumns + `) VALUES (
		?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?,
		?, ?, ?, ?
	)`

	err = s.conn.Exec(ctx, query,
		d.DecisionID, d.OrderID, d.TokenIn, d.TokenOut, d.AmountIn,
		d.RaydiumPrice, d.RaydiumFee, d.RaydiumAmountOut,
		d.MeteoraPrice, d.MeteoraFee, d.MeteoraAmountOut,
		string(d.ChosenVenue), d.DifferenceAbs, d.DifferencePct, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("insert routing decision: %w", err)
	}
	return nil
}

// GetByOrderID returns every decision recorded for an order, oldest first.
func (s *RoutingDecisionStore) GetByOrderID(ctx context.Context, orderID string) ([]*domain.RoutingDecision, error) {
	query := `
		SELECT ` + routingDecisionColumns + `
		FROM routing_decisions FINAL
		WHERE order_id = ?
		ORDER BY decided_at ASC, decision_id ASC
	`

	rows, err := s.conn.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query by order: %w", err)
	}
	defer rows.Close()

	var result []*domain.RoutingDecision
	for rows.Next() {
		var (
			d     domain.RoutingDecision
			venue string
		)
		if err := rows.Scan(
			&d.DecisionID, &d.OrderID, &d.TokenIn, &d.TokenOut, &d.AmountIn,
			&d.RaydiumPrice, &d.RaydiumFee, &d.RaydiumAmountOut,
			&d.MeteoraPrice, &d.MeteoraFee, &d.MeteoraAmountOut,
			&venue, &d.DifferenceAbs, &d.DifferencePct, &d.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scan routing decision: %w", err)
		}
		d.ChosenVenue = domain.Venue(venue)
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing decisions: %w", err)
	}

	return result, nil
}

func (s *RoutingDecisionStore) exists(ctx context.Context, decisionID string) (bool, error) {
	query := `SELECT count(*) FROM routing_decisions FINAL WHERE decision_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, decisionID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
