package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Order // keyed by order_id
	now  func() time.Time
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data: make(map[string]*domain.Order),
		now:  time.Now,
	}
}

// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
func (s *OrderStore) Insert(_ context.Context, o *domain.Order) error {
	if o == nil || o.OrderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[o.OrderID] = cloneOrder(o)
	return nil
}

// Update writes the non-nil members of u and stamps updated_at.
func (s *OrderStore) Update(_ context.Context, orderID string, u domain.OrderUpdate) error {
	if orderID == "" || !u.Status.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.data[orderID]
	if !exists {
		return storage.ErrNotFound
	}
	if o.Status.IsTerminal() {
		return storage.ErrOrderTerminal
	}

	u.Apply(o, s.now())
	return nil
}

// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[orderID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return cloneOrder(o), nil
}

// ListNonTerminal retrieves every order that is neither confirmed nor failed,
// oldest first.
func (s *OrderStore) ListNonTerminal(_ context.Context) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, o := range s.data {
		if !o.Status.IsTerminal() {
			result = append(result, cloneOrder(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Len returns the number of stored orders.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// cloneOrder deep-copies the optional members so callers never share them.
func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.UserID != nil {
		v := *o.UserID
		c.UserID = &v
	}
	if o.AmountOut != nil {
		v := *o.AmountOut
		c.AmountOut = &v
	}
	if o.ExecutedPrice != nil {
		v := *o.ExecutedPrice
		c.ExecutedPrice = &v
	}
	if o.VenueUsed != nil {
		v := *o.VenueUsed
		c.VenueUsed = &v
	}
	if o.TxHash != nil {
		v := *o.TxHash
		c.TxHash = &v
	}
	if o.ErrorMessage != nil {
		v := *o.ErrorMessage
		c.ErrorMessage = &v
	}
	return &c
}

var _ storage.OrderStore = (*OrderStore)(nil)
