package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/aggregate"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusSubmitted     Status = "Submitted"
	StatusStockReserved Status = "StockReserved"
	StatusPaid          Status = "Paid"
	StatusConfirmed     Status = "Confirmed"
	StatusFailed        Status = "Failed"
)

var (
	// FlatShippingCost is charged once per order regardless of contents.
	FlatShippingCost = decimal.RequireFromString("5.99")
	// TaxRate applies to the subtotal.
	TaxRate = decimal.RequireFromString("0.08")
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrEmptyOrder             = errors.New("order must contain at least one item")
	ErrBuyerEmailRequired     = errors.New("buyer email is required")
	ErrShippingAddressMissing = errors.New("shipping address is incomplete")
	ErrInvalidItem            = errors.New("order item is invalid")
	ErrFailureReasonRequired  = errors.New("failure reason is required")
	ErrInvalidTransition      = errors.New("invalid order status transition")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusSubmitted:     {StatusStockReserved, StatusPaid, StatusFailed},
	StatusStockReserved: {StatusPaid, StatusFailed},
	StatusPaid:          {StatusConfirmed, StatusFailed},
	StatusConfirmed:     {}, // terminal state
	StatusFailed:        {}, // terminal state
}

// ShippingAddress is captured at checkout and never changes afterwards.
type ShippingAddress struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

func (a ShippingAddress) isComplete() bool {
	for _, v := range []string{a.Name, a.Email, a.Street, a.City, a.State, a.ZipCode} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Item is an immutable order line. Name, price and image are snapshots of
// the catalog at checkout time.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// NewItem is the input used to build an order line.
type NewItem struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	ImageURL    string
	Quantity    int
}

type Order struct {
	aggregate.Root

	ID              string          `json:"id"`
	Number          string          `json:"order_number"`
	BuyerID         string          `json:"buyer_id"`
	BuyerEmail      string          `json:"buyer_email"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Status          Status          `json:"status"`
	Items           []Item          `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
}

// Repository persists orders. Update must reject a stale Version with a
// concurrency conflict.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
}

// Create builds a Submitted order and computes its totals. Totals are never
// recomputed afterwards.
func Create(buyerID, buyerEmail string, address ShippingAddress, items []NewItem) (*Order, error) {
	if strings.TrimSpace(buyerEmail) == "" {
		return nil, ErrBuyerEmailRequired
	}
	if !address.isComplete() {
		return nil, ErrShippingAddressMissing
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		Number:          GenerateNumber(),
		BuyerID:         buyerID,
		BuyerEmail:      buyerEmail,
		ShippingAddress: address,
		Status:          StatusSubmitted,
		CreatedAt:       now,
	}

	subtotal := decimal.Zero
	for _, in := range items {
		if in.ProductID == "" || in.Quantity <= 0 || !in.UnitPrice.IsPositive() {
			return nil, fmt.Errorf("%w: product %q quantity %d price %s", ErrInvalidItem, in.ProductID, in.Quantity, in.UnitPrice)
		}
		line := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
		o.Items = append(o.Items, Item{
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			UnitPrice:   in.UnitPrice,
			ImageURL:    in.ImageURL,
			Quantity:    in.Quantity,
			LineTotal:   line,
		})
		subtotal = subtotal.Add(line)
	}

	o.Subtotal = subtotal
	o.ShippingCost = FlatShippingCost
	o.Tax = CalculateTax(subtotal)
	o.Total = o.Subtotal.Add(o.ShippingCost).Add(o.Tax)

	o.Record(OrderSubmitted{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerID:     o.BuyerID,
		BuyerEmail:  o.BuyerEmail,
		Total:       o.Total,
		SubmittedAt: now,
	})
	return o, nil
}

// Renumber draws a fresh order number for an order that has not been stored
// yet, keeping the pending OrderSubmitted event in step.
func (o *Order) Renumber() {
	o.Number = GenerateNumber()
	events := o.PendingEvents()
	for i, e := range events {
		if submitted, ok := e.(OrderSubmitted); ok {
			submitted.OrderNumber = o.Number
			events[i] = submitted
		}
	}
}

// CalculateTax returns subtotal × TaxRate rounded to cents (half to even).
func CalculateTax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(TaxRate).RoundBank(2)
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

func (o *Order) transitionError(target Status) error {
	return fmt.Errorf("%w: cannot move order %s from %s to %s", ErrInvalidTransition, o.ID, o.Status, target)
}

// IsTerminal reports whether the order reached Confirmed or Failed.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusFailed
}

// MarkStockReserved is valid only from Submitted.
func (o *Order) MarkStockReserved() error {
	if !o.CanTransitionTo(StatusStockReserved) {
		return o.transitionError(StatusStockReserved)
	}
	o.Status = StatusStockReserved
	return nil
}

// MarkAsPaid is valid from Submitted or StockReserved.
func (o *Order) MarkAsPaid() error {
	if !o.CanTransitionTo(StatusPaid) {
		return o.transitionError(StatusPaid)
	}
	now := time.Now().UTC()
	o.Status = StatusPaid
	o.PaidAt = &now
	o.Record(OrderPaid{OrderID: o.ID, PaidAt: now})
	return nil
}

// Confirm is valid only from Paid.
func (o *Order) Confirm() error {
	if !o.CanTransitionTo(StatusConfirmed) {
		return o.transitionError(StatusConfirmed)
	}
	o.Status = StatusConfirmed
	o.Record(OrderConfirmed{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerEmail:  o.BuyerEmail,
		Items:       o.Items,
		Total:       o.Total,
		ConfirmedAt: time.Now().UTC(),
	})
	return nil
}

// MarkAsFailed is valid from any non-terminal status. Callers that may see
// the same failure twice check Status first.
func (o *Order) MarkAsFailed(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrFailureReasonRequired
	}
	if !o.CanTransitionTo(StatusFailed) {
		return o.transitionError(StatusFailed)
	}
	o.Status = StatusFailed
	o.FailureReason = reason
	o.Record(OrderFailed{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerEmail:  o.BuyerEmail,
		Reason:      reason,
		FailedAt:    time.Now().UTC(),
	})
	return nil
}
