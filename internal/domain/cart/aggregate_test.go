package cart_test

import (
	"context"
	"testing"

	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/domain/product"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCartService() (*cart.Service, *mocks.MockCartStore, *mocks.MockCatalog) {
	store := mocks.NewMockCartStore()
	catalog := mocks.NewMockCatalog(
		product.Product{ID: "prod-1", Name: "Mug", Price: decimal.RequireFromString("49.99"), ImageURL: "mug.png"},
		product.Product{ID: "prod-2", Name: "Lamp", Price: decimal.RequireFromString("79.99")},
		product.Product{ID: "gone", Name: "Old", Price: decimal.RequireFromString("1"), IsDeleted: true},
	)
	return cart.NewService(store, catalog), store, catalog
}

// ============================================
// Cart Tests
// ============================================

func TestCart_AddItem_MergesQuantities(t *testing.T) {
	c := cart.New("buyer-1")

	require.NoError(t, c.AddItem(cart.Item{ProductID: "prod-1", Quantity: 2}))
	require.NoError(t, c.AddItem(cart.Item{ProductID: "prod-1", Quantity: 3}))

	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
}

func TestCart_AddItem_Invalid(t *testing.T) {
	tests := []struct {
		name string
		item cart.Item
		err  error
	}{
		{"no product", cart.Item{Quantity: 1}, cart.ErrInvalidProduct},
		{"zero quantity", cart.Item{ProductID: "p", Quantity: 0}, cart.ErrInvalidQuantity},
		{"too many", cart.Item{ProductID: "p", Quantity: 100}, cart.ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cart.New("buyer-1")
			assert.ErrorIs(t, c.AddItem(tt.item), tt.err)
			assert.True(t, c.IsEmpty())
		})
	}
}

func TestCart_AddItem_MergeOverLimit(t *testing.T) {
	c := cart.New("buyer-1")
	require.NoError(t, c.AddItem(cart.Item{ProductID: "p", Quantity: 90}))

	err := c.AddItem(cart.Item{ProductID: "p", Quantity: 10})

	assert.ErrorIs(t, err, cart.ErrInvalidQuantity)
	assert.Equal(t, 90, c.Items[0].Quantity)
}

// ============================================
// Service Tests
// ============================================

func TestService_AddItem_SnapshotsCatalog(t *testing.T) {
	service, store, _ := newTestCartService()

	c, err := service.AddItem(context.Background(), "buyer-1", "prod-1", 2)

	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Mug", c.Items[0].ProductName)
	assert.Equal(t, "49.99", c.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "mug.png", c.Items[0].ImageURL)
	assert.Len(t, store.SaveCalls, 1)
}

func TestService_AddItem_UnknownOrDeletedProduct(t *testing.T) {
	service, store, _ := newTestCartService()
	ctx := context.Background()

	_, err := service.AddItem(ctx, "buyer-1", "missing", 1)
	assert.ErrorIs(t, err, product.ErrProductNotFound)

	_, err = service.AddItem(ctx, "buyer-1", "gone", 1)
	assert.ErrorIs(t, err, product.ErrProductUnavailable)

	assert.Empty(t, store.SaveCalls)
}

func TestService_Get_EmptyWhenMissing(t *testing.T) {
	service, _, _ := newTestCartService()

	c, err := service.Get(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Equal(t, "nobody", c.BuyerID)
	assert.True(t, c.IsEmpty())
}

func TestService_RemoveLastItem_DeletesCart(t *testing.T) {
	service, store, _ := newTestCartService()
	ctx := context.Background()
	_, err := service.AddItem(ctx, "buyer-1", "prod-1", 1)
	require.NoError(t, err)

	c, err := service.RemoveItem(ctx, "buyer-1", "prod-1")

	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, []string{"buyer-1"}, store.DeleteCalls)
}

func TestService_Clear_Twice(t *testing.T) {
	service, store, _ := newTestCartService()
	ctx := context.Background()
	_, err := service.AddItem(ctx, "buyer-1", "prod-2", 1)
	require.NoError(t, err)

	require.NoError(t, service.Clear(ctx, "buyer-1"))
	require.NoError(t, service.Clear(ctx, "buyer-1"))

	_, err = store.Get(ctx, "buyer-1")
	assert.ErrorIs(t, err, cart.ErrCartNotFound)
}
