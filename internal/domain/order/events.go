package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderSubmitted = "OrderSubmitted"
	EventOrderPaid      = "OrderPaid"
	EventOrderFailed    = "OrderFailed"
	EventOrderConfirmed = "OrderConfirmed"
)

type OrderSubmitted struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     string          `json:"buyer_id"`
	BuyerEmail  string          `json:"buyer_email"`
	Total       decimal.Decimal `json:"total"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

func (e OrderSubmitted) EventName() string   { return EventOrderSubmitted }
func (e OrderSubmitted) AggregateID() string { return e.OrderID }

type OrderPaid struct {
	OrderID string    `json:"order_id"`
	PaidAt  time.Time `json:"paid_at"`
}

func (e OrderPaid) EventName() string   { return EventOrderPaid }
func (e OrderPaid) AggregateID() string { return e.OrderID }

type OrderFailed struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerEmail  string    `json:"buyer_email"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}

func (e OrderFailed) EventName() string   { return EventOrderFailed }
func (e OrderFailed) AggregateID() string { return e.OrderID }

type OrderConfirmed struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerEmail  string          `json:"buyer_email"`
	Items       []Item          `json:"items"`
	Total       decimal.Decimal `json:"total"`
	ConfirmedAt time.Time       `json:"confirmed_at"`
}

func (e OrderConfirmed) EventName() string   { return EventOrderConfirmed }
func (e OrderConfirmed) AggregateID() string { return e.OrderID }
