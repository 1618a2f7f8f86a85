package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil || o.OrderID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO orders (
			order_id, user_id, token_in, token_out, amount_in, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8
		)
	`

	_, err := s.pool.Exec(ctx, query,
		o.OrderID, o.UserID, o.TokenIn, o.TokenOut, o.AmountIn, string(o.Status),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Update writes the non-nil members of u and stamps updated_at.
// Terminal rows are never modified.
func (s *OrderStore) Update(ctx context.Context, orderID string, u domain.OrderUpdate) error {
	if orderID == "" || !u.Status.Valid() {
		return storage.ErrInvalidInput
	}

	var venue *string
	if u.VenueUsed != nil {
		v := string(*u.VenueUsed)
		venue = &v
	}

	query := `
		UPDATE orders SET
			status = $2,
			dex_used = COALESCE($3, dex_used),
			amount_out = COALESCE($4, amount_out),
			executed_price = COALESCE($5, executed_price),
			tx_hash = COALESCE($6, tx_hash),
			error_message = COALESCE($7, error_message),
			updated_at = NOW()
		WHERE order_id = $1
		  AND status NOT IN ('confirmed', 'failed')
	`

	tag, err := s.pool.Exec(ctx, query,
		orderID, string(u.Status),
		venue, u.AmountOut, u.ExecutedPrice, u.TxHash, u.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: either the row is missing or it is already terminal.
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE order_id = $1`, orderID).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check order status: %w", err)
	}
	return storage.ErrOrderTerminal
}

// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `
		SELECT
			order_id, user_id, token_in, token_out, amount_in, amount_out,
			executed_price, status, dex_used, tx_hash, error_message,
			created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`

	row := s.pool.QueryRow(ctx, query, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// ListNonTerminal retrieves every order that is neither confirmed nor failed,
// ordered by created_at ASC.
func (s *OrderStore) ListNonTerminal(ctx context.Context) ([]*domain.Order, error) {
	query := `
		SELECT
			order_id, user_id, token_in, token_out, amount_in, amount_out,
			executed_price, status, dex_used, tx_hash, error_message,
			created_at, updated_at
		FROM orders
		WHERE status NOT IN ('confirmed', 'failed')
		ORDER BY created_at ASC, order_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal orders: %w", err)
	}
	defer rows.Close()

	var result []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return result, nil
}

// scanOrder scans a single row into an Order.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
		venue  *string
	)

	err := row.Scan(
		&o.OrderID, &o.UserID, &o.TokenIn, &o.TokenOut, &o.AmountIn, &o.AmountOut,
		&o.ExecutedPrice, &status, &venue, &o.TxHash, &o.ErrorMessage,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	if venue != nil {
		v := domain.Venue(*venue)
		o.VenueUsed = &v
	}

	return &o, nil
}
