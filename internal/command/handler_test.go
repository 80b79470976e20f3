package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/domain/product"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store/mocks"
	"github.com/example/ec-checkout-saga/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDeps struct {
	store   *mocks.MockStore
	carts   *mocks.MockCartStore
	catalog *mocks.MockCatalog
}

func newTestHandler(opts ...Option) (*Handler, testDeps) {
	deps := testDeps{
		store: mocks.NewMockStore(),
		carts: mocks.NewMockCartStore(),
		catalog: mocks.NewMockCatalog(
			product.Product{ID: "prod-1", Name: "Mug", Price: decimal.RequireFromString("12.50")},
			product.Product{ID: "prod-2", Name: "Tee", Price: decimal.RequireFromString("20.00")},
			product.Product{ID: "prod-gone", Name: "Old", Price: decimal.RequireFromString("1.00"), IsDeleted: true},
		),
	}
	cartSvc := cart.NewService(deps.carts, deps.catalog)
	payments := payment.NewSimulator(deps.store)
	return NewHandler(deps.store, deps.store, cartSvc, payments, opts...), deps
}

func validAddress() ShippingAddress {
	return ShippingAddress{
		Name:    "Ada Buyer",
		Email:   "ada@example.com",
		Street:  "1 Main St",
		City:    "Springfield",
		State:   "IL",
		ZipCode: "62701",
	}
}

func validCheckout() SubmitCheckout {
	return SubmitCheckout{
		BuyerID:         "buyer-1",
		BuyerEmail:      "ada@example.com",
		ShippingAddress: validAddress(),
		Items: []CheckoutItem{
			{ProductID: "prod-1", ProductName: "Mug", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 2},
		},
	}
}

// ============================================
// Cart Tests
// ============================================

func TestHandler_AddToCart_Success(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()

	c, err := handler.AddToCart(ctx, AddToCart{BuyerID: "buyer-1", ProductID: "prod-1", Quantity: 3})

	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Mug", c.Items[0].ProductName)
	assert.True(t, decimal.RequireFromString("12.50").Equal(c.Items[0].UnitPrice))
	assert.Equal(t, []string{"buyer-1"}, deps.carts.SaveCalls)
}

func TestHandler_AddToCart_ValidationError(t *testing.T) {
	handler, deps := newTestHandler()

	_, err := handler.AddToCart(context.Background(), AddToCart{BuyerID: "buyer-1", ProductID: "prod-1", Quantity: 100})

	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "quantity must be at most 99", verr.Fields["quantity"])
	assert.Empty(t, deps.carts.SaveCalls)
}

func TestHandler_AddToCart_UnavailableProduct(t *testing.T) {
	handler, _ := newTestHandler()

	_, err := handler.AddToCart(context.Background(), AddToCart{BuyerID: "buyer-1", ProductID: "prod-gone", Quantity: 1})

	assert.ErrorIs(t, err, product.ErrProductUnavailable)
}

func TestHandler_RemoveFromCart_LastItemDeletesCart(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()
	_, err := handler.AddToCart(ctx, AddToCart{BuyerID: "buyer-1", ProductID: "prod-1", Quantity: 1})
	require.NoError(t, err)

	c, err := handler.RemoveFromCart(ctx, RemoveFromCart{BuyerID: "buyer-1", ProductID: "prod-1"})

	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, []string{"buyer-1"}, deps.carts.DeleteCalls)
}

func TestHandler_GetCart_Empty(t *testing.T) {
	handler, _ := newTestHandler()

	c, err := handler.GetCart(context.Background(), "nobody")

	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, "nobody", c.BuyerID)
}

// ============================================
// Submit Checkout Tests
// ============================================

func TestHandler_SubmitCheckout_Success(t *testing.T) {
	handler, deps := newTestHandler()

	o, err := handler.SubmitCheckout(context.Background(), validCheckout())

	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, o.Status)
	assert.Regexp(t, `^MC-[A-Z2-9]{6}$`, o.Number)
	// 25.00 + 5.99 shipping + 2.00 tax
	assert.Equal(t, "32.99", o.Total.StringFixed(2))

	stored, ok := deps.store.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, "Springfield", stored.ShippingAddress.City)

	assert.Equal(t, []string{contracts.TypeCheckoutStarted}, deps.store.OutboxTypes(contracts.TopicCheckoutSagaEvents))
	assert.Equal(t, []string{order.EventOrderSubmitted}, deps.store.OutboxTypes(contracts.TopicOrderEvents))

	var started contracts.CheckoutStarted
	for _, env := range deps.store.OutboxMessages() {
		if env.Type == contracts.TypeCheckoutStarted {
			require.NoError(t, json.Unmarshal(env.Payload, &started))
			assert.Equal(t, o.ID, env.CorrelationID)
		}
	}
	assert.Equal(t, o.ID, started.OrderID)
	assert.Equal(t, "ada@example.com", started.BuyerEmail)
	assert.Equal(t, []contracts.LineItem{{ProductID: "prod-1", Quantity: 2}}, started.Items)
	assert.Equal(t, 1, deps.store.Commits)
}

func TestHandler_SubmitCheckout_FromCart(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()
	_, err := handler.AddToCart(ctx, AddToCart{BuyerID: "buyer-1", ProductID: "prod-1", Quantity: 1})
	require.NoError(t, err)
	_, err = handler.AddToCart(ctx, AddToCart{BuyerID: "buyer-1", ProductID: "prod-2", Quantity: 2})
	require.NoError(t, err)

	cmd := validCheckout()
	cmd.Items = nil
	o, err := handler.SubmitCheckout(ctx, cmd)

	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "52.50", o.Subtotal.StringFixed(2))
	// The saga clears the cart after confirmation, not the submit.
	assert.Empty(t, deps.carts.DeleteCalls)
}

func TestHandler_SubmitCheckout_EmptyCart(t *testing.T) {
	handler, deps := newTestHandler()

	cmd := validCheckout()
	cmd.Items = nil
	_, err := handler.SubmitCheckout(context.Background(), cmd)

	assert.ErrorIs(t, err, order.ErrEmptyOrder)
	assert.Zero(t, deps.store.WithinTxCalls)
}

func TestHandler_SubmitCheckout_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitCheckout)
		field  string
		msg    string
	}{
		{
			name:   "missing email",
			mutate: func(c *SubmitCheckout) { c.BuyerEmail = "" },
			field:  "buyer_email",
			msg:    "buyer_email is required",
		},
		{
			name:   "bad email",
			mutate: func(c *SubmitCheckout) { c.BuyerEmail = "not-an-email" },
			field:  "buyer_email",
			msg:    "buyer_email must be a valid email address",
		},
		{
			name:   "long zip",
			mutate: func(c *SubmitCheckout) { c.ShippingAddress.ZipCode = "12345678901" },
			field:  "shipping_address.zip_code",
			msg:    "zip_code must be at most 10 characters",
		},
		{
			name:   "missing city",
			mutate: func(c *SubmitCheckout) { c.ShippingAddress.City = "" },
			field:  "shipping_address.city",
			msg:    "city is required",
		},
		{
			name:   "zero price",
			mutate: func(c *SubmitCheckout) { c.Items[0].UnitPrice = decimal.Zero },
			field:  "items[0].unit_price",
			msg:    "unit_price must be greater than 0",
		},
		{
			name:   "quantity too large",
			mutate: func(c *SubmitCheckout) { c.Items[0].Quantity = 100 },
			field:  "items[0].quantity",
			msg:    "quantity must be at most 99",
		},
		{
			name:   "missing product name",
			mutate: func(c *SubmitCheckout) { c.Items[0].ProductName = "" },
			field:  "items[0].product_name",
			msg:    "product_name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, deps := newTestHandler()
			cmd := validCheckout()
			tt.mutate(&cmd)

			_, err := handler.SubmitCheckout(context.Background(), cmd)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.msg, verr.Fields[tt.field])
			assert.Empty(t, deps.store.OutboxMessages())
		})
	}
}

func TestHandler_SubmitCheckout_CommitFailureLeavesNothing(t *testing.T) {
	handler, deps := newTestHandler()
	deps.store.CommitErr = errors.New("connection reset")

	_, err := handler.SubmitCheckout(context.Background(), validCheckout())

	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, deps.store.OutboxMessages())
}

// ============================================
// Simulate Payment Tests
// ============================================

// stockReserved moves the order's checkout to the state that accepts payment.
func stockReserved(deps testDeps, orderID string) {
	deps.store.SeedCheckout(&checkout.CheckoutState{
		CorrelationID: orderID,
		OrderID:       orderID,
		CurrentState:  checkout.StateStockReserved,
	})
}

func TestHandler_SimulatePayment_Success(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()
	o, err := handler.SubmitCheckout(ctx, validCheckout())
	require.NoError(t, err)
	stockReserved(deps, o.ID)

	paid, err := handler.SimulatePayment(ctx, SimulatePayment{OrderID: o.ID, BuyerID: "buyer-1", ShouldSucceed: true})

	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	assert.Equal(t,
		[]string{contracts.TypeCheckoutStarted, contracts.TypePaymentCompleted},
		deps.store.OutboxTypes(contracts.TopicCheckoutSagaEvents))
}

func TestHandler_SimulatePayment_Declined(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()
	o, err := handler.SubmitCheckout(ctx, validCheckout())
	require.NoError(t, err)
	stockReserved(deps, o.ID)

	failed, err := handler.SimulatePayment(ctx, SimulatePayment{OrderID: o.ID, BuyerID: "buyer-1"})

	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, failed.Status)
	assert.Equal(t, payment.DeclinedReason, failed.FailureReason)
	assert.Contains(t, deps.store.OutboxTypes(contracts.TopicCheckoutSagaEvents), contracts.TypePaymentFailed)
}

func TestHandler_SimulatePayment_OtherBuyer(t *testing.T) {
	handler, _ := newTestHandler()
	ctx := context.Background()
	o, err := handler.SubmitCheckout(ctx, validCheckout())
	require.NoError(t, err)

	_, err = handler.SimulatePayment(ctx, SimulatePayment{OrderID: o.ID, BuyerID: "buyer-2", ShouldSucceed: true})

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestHandler_SimulatePayment_Twice(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()
	o, err := handler.SubmitCheckout(ctx, validCheckout())
	require.NoError(t, err)
	stockReserved(deps, o.ID)
	_, err = handler.SimulatePayment(ctx, SimulatePayment{OrderID: o.ID, BuyerID: "buyer-1", ShouldSucceed: true})
	require.NoError(t, err)

	_, err = handler.SimulatePayment(ctx, SimulatePayment{OrderID: o.ID, BuyerID: "buyer-1", ShouldSucceed: true})

	assert.ErrorIs(t, err, payment.ErrNotPayable)
}

func TestHandler_SimulatePayment_BeforeStockReserved(t *testing.T) {
	handler, deps := newTestHandler()
	ctx := context.Background()
	o, err := handler.SubmitCheckout(ctx, validCheckout())
	require.NoError(t, err)
	deps.store.SeedCheckout(&checkout.CheckoutState{CorrelationID: o.ID, OrderID: o.ID, CurrentState: checkout.StateSubmitted})

	_, err = handler.SimulatePayment(ctx, SimulatePayment{OrderID: o.ID, BuyerID: "buyer-1", ShouldSucceed: true})

	assert.ErrorIs(t, err, payment.ErrNotPayable)
	stored, _ := deps.store.Order(o.ID)
	assert.Equal(t, order.StatusSubmitted, stored.Status)
	assert.Equal(t, []string{contracts.TypeCheckoutStarted}, deps.store.OutboxTypes(contracts.TopicCheckoutSagaEvents))
}

// ============================================
// Adjust Stock Tests
// ============================================

func TestHandler_AdjustStock_CreatesItem(t *testing.T) {
	var lowCalls []string
	handler, deps := newTestHandler(WithLowStockObserver(func(productID string, _ int) {
		lowCalls = append(lowCalls, productID)
	}))
	ctx := context.Background()

	item, err := handler.AdjustStock(ctx, AdjustStock{ProductID: "prod-1", Delta: 50, Reason: "Initial stock", Actor: "admin-1"})

	require.NoError(t, err)
	assert.Equal(t, 50, item.QuantityOnHand)
	assert.Empty(t, lowCalls)

	adjustments, err := deps.store.ListAdjustments(ctx, "prod-1", 10)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.Equal(t, "admin-1", adjustments[0].Actor)
	assert.Equal(t, 50, adjustments[0].ResultingQuantity)
}

func TestHandler_AdjustStock_LowStock(t *testing.T) {
	var lowCalls []int
	handler, deps := newTestHandler(WithLowStockObserver(func(_ string, onHand int) {
		lowCalls = append(lowCalls, onHand)
	}))
	deps.store.SeedStock("prod-1", 12)

	item, err := handler.AdjustStock(context.Background(), AdjustStock{ProductID: "prod-1", Delta: -2, Reason: "Damaged", Actor: "admin-1"})

	require.NoError(t, err)
	assert.Equal(t, 10, item.QuantityOnHand)
	assert.Equal(t, []int{10}, lowCalls)
	assert.Equal(t,
		[]string{inventory.EventStockAdjusted, inventory.EventStockLow},
		deps.store.OutboxTypes(contracts.TopicInventoryEvents))
}

func TestHandler_AdjustStock_NegativeResult(t *testing.T) {
	handler, deps := newTestHandler()
	deps.store.SeedStock("prod-1", 3)

	_, err := handler.AdjustStock(context.Background(), AdjustStock{ProductID: "prod-1", Delta: -5, Reason: "Count", Actor: "admin-1"})

	assert.ErrorIs(t, err, inventory.ErrNegativeResultingStock)
	item, _ := deps.store.StockItem("prod-1")
	assert.Equal(t, 3, item.QuantityOnHand)
}

func TestHandler_AdjustStock_ZeroDelta(t *testing.T) {
	handler, _ := newTestHandler()

	_, err := handler.AdjustStock(context.Background(), AdjustStock{ProductID: "prod-1", Reason: "noop", Actor: "admin-1"})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "delta must not be 0", verr.Fields["delta"])
}
