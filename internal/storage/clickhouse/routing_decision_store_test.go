package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
	"solana-order-router/internal/storage/clickhouse"
)

func newDecision(id, orderID string, decidedAt int64) *domain.RoutingDecision {
	return &domain.RoutingDecision{
		DecisionID:       id,
		OrderID:          orderID,
		TokenIn:          "SOL",
		TokenOut:         "USDC",
		AmountIn:         10,
		RaydiumPrice:     1.01,
		RaydiumFee:       0.003,
		RaydiumAmountOut: 10.0697,
		MeteoraPrice:     0.99,
		MeteoraFee:       0.002,
		MeteoraAmountOut: 9.8802,
		ChosenVenue:      domain.VenueRaydium,
		DifferenceAbs:    0.1895,
		DifferencePct:    1.8819,
		DecidedAt:        decidedAt,
	}
}

func TestRoutingDecisionStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewRoutingDecisionStore(conn)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newDecision("d2", "order-1", 2000)))
	require.NoError(t, store.Insert(ctx, newDecision("d1", "order-1", 1000)))
	require.NoError(t, store.Insert(ctx, newDecision("d3", "order-2", 1500)))

	got, err := store.GetByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].DecisionID)
	assert.Equal(t, "d2", got[1].DecisionID)
	assert.Equal(t, domain.VenueRaydium, got[0].ChosenVenue)
	assert.Equal(t, 10.0697, got[0].RaydiumAmountOut)
	assert.Equal(t, 9.8802, got[0].MeteoraAmountOut)
	assert.Equal(t, int64(1000), got[0].DecidedAt)
}

func TestRoutingDecisionStore_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewRoutingDecisionStore(conn)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newDecision("dup", "order-1", 1000)))
	err := store.Insert(ctx, newDecision("dup", "order-1", 1000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRoutingDecisionStore_GetByOrderID_Empty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewRoutingDecisionStore(conn)

	got, err := store.GetByOrderID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoutingDecisionStore_InvalidInput(t *testing.T) {
	store := clickhouse.NewRoutingDecisionStore(nil)

	err := store.Insert(context.Background(), &domain.RoutingDecision{OrderID: "order-1"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
