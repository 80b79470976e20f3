// Package contracts defines the messages exchanged between the checkout saga
// and its consumers. Every message correlates by order id.
package contracts

const (
	TypeCheckoutStarted           = "CheckoutStarted"
	TypeReserveStockForOrder      = "ReserveStockForOrder"
	TypeStockReservationCompleted = "StockReservationCompleted"
	TypeStockReservationFailed    = "StockReservationFailed"
	TypePaymentCompleted          = "PaymentCompleted"
	TypePaymentFailed             = "PaymentFailed"
	TypeConfirmOrder              = "ConfirmOrder"
	TypeDeductStock               = "DeductStock"
	TypeReleaseStockReservations  = "ReleaseStockReservations"
	TypeClearCart                 = "ClearCart"
	TypeOrderFailed               = "OrderFailed"
)

// Message is implemented by every saga event and command.
type Message interface {
	MessageType() string
	CorrelationID() string
}

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutStarted struct {
	OrderID    string     `json:"order_id"`
	BuyerID    string     `json:"buyer_id"`
	BuyerEmail string     `json:"buyer_email"`
	Items      []LineItem `json:"items"`
}

func (m CheckoutStarted) MessageType() string   { return TypeCheckoutStarted }
func (m CheckoutStarted) CorrelationID() string { return m.OrderID }

type ReserveStockForOrder struct {
	OrderID string     `json:"order_id"`
	Items   []LineItem `json:"items"`
}

func (m ReserveStockForOrder) MessageType() string   { return TypeReserveStockForOrder }
func (m ReserveStockForOrder) CorrelationID() string { return m.OrderID }

type StockReservationCompleted struct {
	OrderID            string `json:"order_id"`
	ReservationIDsJSON string `json:"reservation_ids_json"`
}

func (m StockReservationCompleted) MessageType() string   { return TypeStockReservationCompleted }
func (m StockReservationCompleted) CorrelationID() string { return m.OrderID }

type StockReservationFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m StockReservationFailed) MessageType() string   { return TypeStockReservationFailed }
func (m StockReservationFailed) CorrelationID() string { return m.OrderID }

type PaymentCompleted struct {
	OrderID string `json:"order_id"`
}

func (m PaymentCompleted) MessageType() string   { return TypePaymentCompleted }
func (m PaymentCompleted) CorrelationID() string { return m.OrderID }

type PaymentFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m PaymentFailed) MessageType() string   { return TypePaymentFailed }
func (m PaymentFailed) CorrelationID() string { return m.OrderID }

type ConfirmOrder struct {
	OrderID string `json:"order_id"`
}

func (m ConfirmOrder) MessageType() string   { return TypeConfirmOrder }
func (m ConfirmOrder) CorrelationID() string { return m.OrderID }

type DeductStock struct {
	OrderID            string `json:"order_id"`
	ReservationIDsJSON string `json:"reservation_ids_json"`
}

func (m DeductStock) MessageType() string   { return TypeDeductStock }
func (m DeductStock) CorrelationID() string { return m.OrderID }

type ReleaseStockReservations struct {
	OrderID            string `json:"order_id"`
	ReservationIDsJSON string `json:"reservation_ids_json"`
}

func (m ReleaseStockReservations) MessageType() string   { return TypeReleaseStockReservations }
func (m ReleaseStockReservations) CorrelationID() string { return m.OrderID }

// ClearCart carries the order id only for correlation and logging.
type ClearCart struct {
	BuyerID string `json:"buyer_id"`
	OrderID string `json:"order_id,omitempty"`
}

func (m ClearCart) MessageType() string { return TypeClearCart }

func (m ClearCart) CorrelationID() string {
	if m.OrderID != "" {
		return m.OrderID
	}
	return m.BuyerID
}

type OrderFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m OrderFailed) MessageType() string   { return TypeOrderFailed }
func (m OrderFailed) CorrelationID() string { return m.OrderID }
