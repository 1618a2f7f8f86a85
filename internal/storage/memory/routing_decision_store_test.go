package memory

import (
	"context"
	"errors"
	"testing"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
)

func TestRoutingDecisionStore_InsertAndGet(t *testing.T) {
	store := NewRoutingDecisionStore()
	ctx := context.Background()

	decisions := []*domain.RoutingDecision{
		{DecisionID: "d2", OrderID: "o1", ChosenVenue: domain.VenueMeteora, DecidedAt: 2000},
		{DecisionID: "d1", OrderID: "o1", ChosenVenue: domain.VenueRaydium, DecidedAt: 1000},
		{DecisionID: "d3", OrderID: "o2", ChosenVenue: domain.VenueRaydium, DecidedAt: 1500},
	}
	for _, d := range decisions {
		if err := store.Insert(ctx, d); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByOrderID(ctx, "o1")
	if err != nil {
		t.Fatalf("GetByOrderID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 decisions, got %d", len(got))
	}
	if got[0].DecisionID != "d1" || got[1].DecisionID != "d2" {
		t.Errorf("Expected decided_at ordering, got %s, %s", got[0].DecisionID, got[1].DecisionID)
	}
}

func TestRoutingDecisionStore_DuplicateKey(t *testing.T) {
	store := NewRoutingDecisionStore()
	ctx := context.Background()

	d := &domain.RoutingDecision{DecisionID: "d1", OrderID: "o1"}
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	if err := store.Insert(ctx, d); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestRoutingDecisionStore_Empty(t *testing.T) {
	store := NewRoutingDecisionStore()

	got, err := store.GetByOrderID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByOrderID failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no decisions, got %d", len(got))
	}

	if err := store.Insert(context.Background(), &domain.RoutingDecision{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
