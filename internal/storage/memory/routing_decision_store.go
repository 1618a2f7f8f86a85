package memory

import (
	"context"
	"sort"
	"sync"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
)

// RoutingDecisionStore is an in-memory implementation of storage.RoutingDecisionStore.
type RoutingDecisionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RoutingDecision // keyed by decision_id
}

// NewRoutingDecisionStore creates a new in-memory routing decision store.
func NewRoutingDecisionStore() *RoutingDecisionStore {
	return &RoutingDecisionStore{
		data: make(map[string]*domain.RoutingDecision),
	}
}

// Insert adds a new decision. Returns ErrDuplicateKey if decision_id exists.
func (s *RoutingDecisionStore) Insert(_ context.Context, d *domain.RoutingDecision) error {
	if d == nil || d.DecisionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DecisionID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *d
	s.data[d.DecisionID] = &copy
	return nil
}

// GetByOrderID retrieves all decisions for an order, ordered by decided_at ASC.
func (s *RoutingDecisionStore) GetByOrderID(_ context.Context, orderID string) ([]*domain.RoutingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RoutingDecision
	for _, d := range s.data {
		if d.OrderID == orderID {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].DecidedAt != result[j].DecidedAt {
			return result[i].DecidedAt < result[j].DecidedAt
		}
		return result[i].DecisionID < result[j].DecisionID
	})

	return result, nil
}

var _ storage.RoutingDecisionStore = (*RoutingDecisionStore)(nil)
