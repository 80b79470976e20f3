package command

import "github.com/shopspring/decimal"

// Cart Commands
type AddToCart struct {
	BuyerID   string `json:"buyer_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1,max=99"`
}

type RemoveFromCart struct {
	BuyerID   string `json:"buyer_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

// Checkout Commands
type ShippingAddress struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	ZipCode string `json:"zip_code" validate:"required,max=10"`
}

type CheckoutItem struct {
	ProductID   string          `json:"product_id" validate:"required"`
	ProductName string          `json:"product_name" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gt=0"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity" validate:"min=1,max=99"`
}

// SubmitCheckout starts a checkout. When Items is empty the buyer's cart is
// used.
type SubmitCheckout struct {
	BuyerID         string          `json:"buyer_id" validate:"required"`
	BuyerEmail      string          `json:"buyer_email" validate:"required,email"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []CheckoutItem  `json:"items" validate:"omitempty,dive"`
}

// Payment Commands
type SimulatePayment struct {
	OrderID       string `json:"order_id" validate:"required"`
	BuyerID       string `json:"buyer_id" validate:"required"`
	ShouldSucceed bool   `json:"should_succeed"`
}

// Inventory Commands
type AdjustStock struct {
	ProductID string `json:"product_id" validate:"required"`
	Delta     int    `json:"delta" validate:"ne=0"`
	Reason    string `json:"reason" validate:"required,max=200"`
	Actor     string `json:"actor" validate:"required"`
}
