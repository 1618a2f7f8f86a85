package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/storage"
	"solana-order-router/internal/storage/postgres"
)

func newTestOrder(id string) *domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.NewOrder(id, domain.OrderRequest{
		TokenIn:  "SOL",
		TokenOut: "USDC",
		AmountIn: 1.5,
		UserID:   strPtr("user-1"),
	}, now)
}

func TestOrderStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)
	ctx := context.Background()

	o := newTestOrder("order-1")
	require.NoError(t, store.Insert(ctx, o))

	got, err := store.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, "SOL", got.TokenIn)
	assert.Equal(t, "USDC", got.TokenOut)
	assert.Equal(t, 1.5, got.AmountIn)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)
	assert.Nil(t, got.AmountOut)
	assert.Nil(t, got.VenueUsed)
	assert.Nil(t, got.TxHash)
	assert.Nil(t, got.ErrorMessage)
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))
}

func TestOrderStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestOrder("order-1")))
	err := store.Insert(ctx, newTestOrder("order-1"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestOrderStore_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_Update_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestOrder("order-1")))

	require.NoError(t, store.Update(ctx, "order-1", domain.RoutingUpdate()))
	require.NoError(t, store.Update(ctx, "order-1", domain.BuildingUpdate(domain.VenueMeteora, 2.9)))
	require.NoError(t, store.Update(ctx, "order-1", domain.SubmittedUpdate(domain.VenueMeteora)))

	got, err := store.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, got.Status)
	require.NotNil(t, got.AmountOut)
	assert.Equal(t, 2.9, *got.AmountOut, "nil member must keep the quoted amount")

	result := domain.SwapResult{TxHash: "0xabc", ExecutedPrice: 1.9, ActualAmountOut: 2.85}
	require.NoError(t, store.Update(ctx, "order-1", domain.ConfirmedUpdate(domain.VenueMeteora, result)))

	got, err = store.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	require.NotNil(t, got.VenueUsed)
	assert.Equal(t, domain.VenueMeteora, *got.VenueUsed)
	assert.Equal(t, 2.85, *got.AmountOut)
	assert.Equal(t, 1.9, *got.ExecutedPrice)
	assert.Equal(t, "0xabc", *got.TxHash)
	assert.Nil(t, got.ErrorMessage)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestOrderStore_Update_TerminalGuard(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestOrder("order-1")))
	require.NoError(t, store.Update(ctx, "order-1", domain.FailedUpdate("no liquidity")))

	err := store.Update(ctx, "order-1", domain.RoutingUpdate())
	assert.ErrorIs(t, err, storage.ErrOrderTerminal)

	got, err := store.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "no liquidity", *got.ErrorMessage)
}

func TestOrderStore_Update_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)

	err := store.Update(context.Background(), "missing", domain.RoutingUpdate())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_InvalidInput(t *testing.T) {
	store := postgres.NewOrderStore(nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Update(ctx, "", domain.RoutingUpdate()), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Update(ctx, "order-1", domain.OrderUpdate{Status: "bogus"}), storage.ErrInvalidInput)
}

func TestOrderStore_ListNonTerminal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOrderStore(pool)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []string{"order-c", "order-a", "order-b", "order-d"} {
		o := domain.NewOrder(id, domain.OrderRequest{TokenIn: "SOL", TokenOut: "USDC", AmountIn: 1}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Insert(ctx, o))
	}
	require.NoError(t, store.Update(ctx, "order-a", domain.BuildingUpdate(domain.VenueRaydium, 0.9)))
	require.NoError(t, store.Update(ctx, "order-b", domain.FailedUpdate("no route")))
	result := domain.SwapResult{TxHash: "0xabc", ExecutedPrice: 1, ActualAmountOut: 1}
	require.NoError(t, store.Update(ctx, "order-d", domain.ConfirmedUpdate(domain.VenueMeteora, result)))

	got, err := store.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "order-c", got[0].OrderID)
	assert.Equal(t, domain.OrderStatusPending, got[0].Status)
	assert.Equal(t, "order-a", got[1].OrderID)
	assert.Equal(t, domain.OrderStatusBuilding, got[1].Status)
	require.NotNil(t, got[1].VenueUsed)
	assert.Equal(t, domain.VenueRaydium, *got[1].VenueUsed)
}
