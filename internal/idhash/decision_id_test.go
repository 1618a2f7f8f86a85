package idhash

import (
	"testing"

	"solana-order-router/internal/domain"
)

func TestComputeDecisionID(t *testing.T) {
	tests := []struct {
		name      string
		orderID   string
		venue     domain.Venue
		decidedAt int64
	}{
		{"raydium decision", "3f1c5e0a-order", domain.VenueRaydium, 1704067234567},
		{"meteora decision", "9b2d7f4c-order", domain.VenueMeteora, 1704067300000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDecisionID(tt.orderID, tt.venue, tt.decidedAt)
			if len(got) != 64 {
				t.Errorf("ComputeDecisionID() length = %d, want 64", len(got))
			}

			got2 := ComputeDecisionID(tt.orderID, tt.venue, tt.decidedAt)
			if got != got2 {
				t.Errorf("ComputeDecisionID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeDecisionID_DistinctInputs(t *testing.T) {
	a := ComputeDecisionID("order-1", domain.VenueRaydium, 1000)
	b := ComputeDecisionID("order-1", domain.VenueMeteora, 1000)
	c := ComputeDecisionID("order-1", domain.VenueRaydium, 1001)

	if a == b || a == c || b == c {
		t.Error("different inputs should produce different ids")
	}
}
