package order

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress() ShippingAddress {
	return ShippingAddress{
		Name:    "Jane Buyer",
		Email:   "jane@example.com",
		Street:  "1 Main St",
		City:    "Springfield",
		State:   "IL",
		ZipCode: "62701",
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := Create("buyer-1", "jane@example.com", testAddress(), []NewItem{
		{ProductID: "prod-1", ProductName: "Mug", UnitPrice: dec("49.99"), Quantity: 2},
		{ProductID: "prod-2", ProductName: "Lamp", UnitPrice: dec("79.99"), Quantity: 1},
	})
	require.NoError(t, err)
	o.ClearEvents()
	return o
}

// ============================================
// Create Tests
// ============================================

func TestCreate_ComputesTotals(t *testing.T) {
	o, err := Create("buyer-1", "jane@example.com", testAddress(), []NewItem{
		{ProductID: "prod-1", ProductName: "Mug", UnitPrice: dec("49.99"), Quantity: 2},
		{ProductID: "prod-2", ProductName: "Lamp", UnitPrice: dec("79.99"), Quantity: 1},
	})

	require.NoError(t, err)
	assert.Equal(t, "179.97", o.Subtotal.StringFixed(2))
	assert.Equal(t, "5.99", o.ShippingCost.StringFixed(2))
	assert.Equal(t, "14.40", o.Tax.StringFixed(2))
	assert.Equal(t, "200.36", o.Total.StringFixed(2))
	assert.True(t, o.Total.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.Tax)))
	assert.Equal(t, StatusSubmitted, o.Status)
	assert.NotEmpty(t, o.ID)
	assert.True(t, strings.HasPrefix(o.Number, "MC-"))
	assert.Nil(t, o.PaidAt)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "99.98", o.Items[0].LineTotal.StringFixed(2))

	require.Len(t, o.PendingEvents(), 1)
	assert.Equal(t, EventOrderSubmitted, o.PendingEvents()[0].EventName())
}

func TestCreate_SubtotalIsSumOfLines(t *testing.T) {
	tests := []struct {
		name  string
		items []NewItem
	}{
		{"single line", []NewItem{{ProductID: "a", UnitPrice: dec("0.01"), Quantity: 1}}},
		{"many units", []NewItem{{ProductID: "a", UnitPrice: dec("12.34"), Quantity: 99}}},
		{"mixed", []NewItem{
			{ProductID: "a", UnitPrice: dec("3.33"), Quantity: 3},
			{ProductID: "b", UnitPrice: dec("10.10"), Quantity: 7},
			{ProductID: "c", UnitPrice: dec("0.99"), Quantity: 11},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := Create("buyer-1", "jane@example.com", testAddress(), tt.items)
			require.NoError(t, err)

			want := decimal.Zero
			for _, in := range tt.items {
				want = want.Add(in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))))
			}
			assert.True(t, want.Equal(o.Subtotal))
			assert.True(t, o.Tax.Equal(o.Subtotal.Mul(TaxRate).RoundBank(2)))
			assert.True(t, o.Total.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.Tax)))
		})
	}
}

func TestRenumber_UpdatesPendingSubmittedEvent(t *testing.T) {
	o, err := Create("buyer-1", "jane@example.com", testAddress(), []NewItem{
		{ProductID: "prod-1", ProductName: "Mug", UnitPrice: dec("10.00"), Quantity: 1},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		o.Renumber()
		require.Len(t, o.PendingEvents(), 1)
		submitted, ok := o.PendingEvents()[0].(OrderSubmitted)
		require.True(t, ok)
		assert.Equal(t, o.Number, submitted.OrderNumber)
		assert.True(t, strings.HasPrefix(o.Number, "MC-"))
	}
}

func TestCreate_EmptyOrder(t *testing.T) {
	o, err := Create("buyer-1", "jane@example.com", testAddress(), nil)

	assert.ErrorIs(t, err, ErrEmptyOrder)
	assert.Nil(t, o)
}

func TestCreate_MissingEmail(t *testing.T) {
	_, err := Create("buyer-1", "  ", testAddress(), []NewItem{{ProductID: "a", UnitPrice: dec("1"), Quantity: 1}})

	assert.ErrorIs(t, err, ErrBuyerEmailRequired)
}

func TestCreate_IncompleteAddress(t *testing.T) {
	addr := testAddress()
	addr.City = ""

	_, err := Create("buyer-1", "jane@example.com", addr, []NewItem{{ProductID: "a", UnitPrice: dec("1"), Quantity: 1}})

	assert.ErrorIs(t, err, ErrShippingAddressMissing)
}

func TestCreate_InvalidItem(t *testing.T) {
	tests := []struct {
		name string
		item NewItem
	}{
		{"zero quantity", NewItem{ProductID: "a", UnitPrice: dec("1"), Quantity: 0}},
		{"negative quantity", NewItem{ProductID: "a", UnitPrice: dec("1"), Quantity: -1}},
		{"zero price", NewItem{ProductID: "a", UnitPrice: decimal.Zero, Quantity: 1}},
		{"missing product", NewItem{UnitPrice: dec("1"), Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create("buyer-1", "jane@example.com", testAddress(), []NewItem{tt.item})
			assert.ErrorIs(t, err, ErrInvalidItem)
		})
	}
}

// ============================================
// Transition Tests
// ============================================

func TestOrder_HappyPath(t *testing.T) {
	o := newTestOrder(t)

	require.NoError(t, o.MarkStockReserved())
	assert.Equal(t, StatusStockReserved, o.Status)

	require.NoError(t, o.MarkAsPaid())
	assert.Equal(t, StatusPaid, o.Status)
	require.NotNil(t, o.PaidAt)

	require.NoError(t, o.Confirm())
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.True(t, o.IsTerminal())

	var names []string
	for _, e := range o.PendingEvents() {
		names = append(names, e.EventName())
	}
	assert.Equal(t, []string{EventOrderPaid, EventOrderConfirmed}, names)
}

func TestOrder_MarkAsPaid_FromSubmitted(t *testing.T) {
	o := newTestOrder(t)

	require.NoError(t, o.MarkAsPaid())
	assert.Equal(t, StatusPaid, o.Status)
}

func TestOrder_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		apply  func(*Order) error
	}{
		{"stock reserved twice", StatusStockReserved, (*Order).MarkStockReserved},
		{"stock reserved after paid", StatusPaid, (*Order).MarkStockReserved},
		{"paid twice", StatusPaid, (*Order).MarkAsPaid},
		{"paid after failure", StatusFailed, (*Order).MarkAsPaid},
		{"confirm from submitted", StatusSubmitted, (*Order).Confirm},
		{"confirm from stock reserved", StatusStockReserved, (*Order).Confirm},
		{"confirm twice", StatusConfirmed, (*Order).Confirm},
		{"fail confirmed", StatusConfirmed, func(o *Order) error { return o.MarkAsFailed("late") }},
		{"fail twice", StatusFailed, func(o *Order) error { return o.MarkAsFailed("again") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder(t)
			o.Status = tt.status

			err := tt.apply(o)

			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.status, o.Status)
			assert.Empty(t, o.PendingEvents())
		})
	}
}

func TestOrder_MarkAsFailed(t *testing.T) {
	for _, from := range []Status{StatusSubmitted, StatusStockReserved, StatusPaid} {
		t.Run(string(from), func(t *testing.T) {
			o := newTestOrder(t)
			o.Status = from

			require.NoError(t, o.MarkAsFailed("Payment declined (simulated)"))

			assert.Equal(t, StatusFailed, o.Status)
			assert.Equal(t, "Payment declined (simulated)", o.FailureReason)
			require.Len(t, o.PendingEvents(), 1)
			assert.Equal(t, EventOrderFailed, o.PendingEvents()[0].EventName())
		})
	}
}

func TestOrder_MarkAsFailed_RequiresReason(t *testing.T) {
	o := newTestOrder(t)

	assert.ErrorIs(t, o.MarkAsFailed(""), ErrFailureReasonRequired)
	assert.Equal(t, StatusSubmitted, o.Status)
}

// ============================================
// Order Number Tests
// ============================================

func TestGenerateNumber(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := GenerateNumber()
		require.Len(t, n, 9)
		assert.True(t, strings.HasPrefix(n, "MC-"))
		assert.False(t, strings.ContainsAny(n[3:], "0O1IL"), n)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 90)
}
