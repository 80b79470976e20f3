package query

import (
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderReadModel is what a buyer polls after submitting a checkout
type OrderReadModel struct {
	ID              string                  `json:"id"`
	OrderNumber     string                  `json:"order_number"`
	BuyerEmail      string                  `json:"buyer_email"`
	Status          order.Status            `json:"status"`
	CheckoutState   checkout.State          `json:"checkout_state,omitempty"`
	ShippingAddress order.ShippingAddress   `json:"shipping_address"`
	Items           []order.Item            `json:"items"`
	Subtotal        decimal.Decimal         `json:"subtotal"`
	ShippingCost    decimal.Decimal         `json:"shipping_cost"`
	Tax             decimal.Decimal         `json:"tax"`
	Total           decimal.Decimal         `json:"total"`
	FailureReason   string                  `json:"failure_reason,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	PaidAt          *time.Time              `json:"paid_at,omitempty"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	History         []checkout.JournalEntry `json:"history,omitempty"`
}

// InventoryReadModel is the stock level of one product
type InventoryReadModel struct {
	ProductID      string                 `json:"product_id"`
	OnHand         int                    `json:"on_hand"`
	ReservedStock  int                    `json:"reserved_stock"`
	AvailableStock int                    `json:"available_stock"`
	IsLow          bool                   `json:"is_low"`
	Reservations   int                    `json:"active_reservations"`
	Adjustments    []inventory.Adjustment `json:"recent_adjustments"`
}
