package inventory

import "time"

const (
	EventStockReserved = "StockReserved"
	EventStockReleased = "StockReleased"
	EventStockDeducted = "StockDeducted"
	EventStockAdjusted = "StockAdjusted"
	EventStockLow      = "StockLow"
)

type StockReserved struct {
	ProductID     string    `json:"product_id"`
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	Quantity      int       `json:"quantity"`
	ReservedAt    time.Time `json:"reserved_at"`
}

func (e StockReserved) EventName() string   { return EventStockReserved }
func (e StockReserved) AggregateID() string { return e.ProductID }

type StockReleased struct {
	ProductID     string    `json:"product_id"`
	ReservationID string    `json:"reservation_id"`
	Quantity      int       `json:"quantity"`
	ReleasedAt    time.Time `json:"released_at"`
}

func (e StockReleased) EventName() string   { return EventStockReleased }
func (e StockReleased) AggregateID() string { return e.ProductID }

type StockDeducted struct {
	ProductID     string    `json:"product_id"`
	ReservationID string    `json:"reservation_id"`
	Quantity      int       `json:"quantity"`
	DeductedAt    time.Time `json:"deducted_at"`
}

func (e StockDeducted) EventName() string   { return EventStockDeducted }
func (e StockDeducted) AggregateID() string { return e.ProductID }

type StockAdjusted struct {
	ProductID         string    `json:"product_id"`
	Delta             int       `json:"delta"`
	ResultingQuantity int       `json:"resulting_quantity"`
	Reason            string    `json:"reason"`
	Actor             string    `json:"actor"`
	AdjustedAt        time.Time `json:"adjusted_at"`
}

func (e StockAdjusted) EventName() string   { return EventStockAdjusted }
func (e StockAdjusted) AggregateID() string { return e.ProductID }

// StockLow is raised when on-hand quantity ends at or below LowStockThreshold.
type StockLow struct {
	ProductID      string    `json:"product_id"`
	QuantityOnHand int       `json:"quantity_on_hand"`
	DetectedAt     time.Time `json:"detected_at"`
}

func (e StockLow) EventName() string   { return EventStockLow }
func (e StockLow) AggregateID() string { return e.ProductID }
