package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/aggregate"
	"github.com/google/uuid"
)

const AggregateType = "Inventory"

const (
	// LowStockThreshold is the on-hand level at or below which StockLow is raised.
	LowStockThreshold = 10
	// DefaultReservationTTL is how long a reservation is protected from the sweep.
	DefaultReservationTTL = 15 * time.Minute

	SystemActor     = "system"
	DeductionReason = "Checkout order confirmed"
)

var (
	ErrStockItemNotFound      = errors.New("stock item not found")
	ErrInsufficientStock      = errors.New("insufficient available stock")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrNegativeResultingStock = errors.New("stock adjustment would result in negative quantity")
)

// Reservation holds stock for one order until it is deducted or released.
type Reservation struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Adjustment is the audit record of a change to on-hand quantity.
type Adjustment struct {
	ID                string    `json:"id"`
	Delta             int       `json:"delta"`
	ResultingQuantity int       `json:"resulting_quantity"`
	Reason            string    `json:"reason"`
	Actor             string    `json:"actor"`
	CreatedAt         time.Time `json:"created_at"`
}

// ExpiredReservation identifies a reservation the sweep may remove.
type ExpiredReservation struct {
	ProductID     string
	ReservationID string
	OrderID       string
	ExpiresAt     time.Time
}

type StockItem struct {
	aggregate.Root

	ProductID      string        `json:"product_id"`
	QuantityOnHand int           `json:"quantity_on_hand"`
	Reservations   []Reservation `json:"reservations"`

	adjustments []Adjustment
}

// Repository persists stock items. Save must reject a stale Version with a
// concurrency conflict so that two writers cannot both reserve the last unit.
//
// ListExpired returns, oldest first, reservations that expired before the
// given time and are no longer needed by their checkout: the order has no
// checkout or its checkout failed. Reservations of a checkout that is in
// progress or confirmed (deduction pending) are never returned, so they
// cannot crowd releasable ones out of a batch.
type Repository interface {
	Get(ctx context.Context, productID string) (*StockItem, error)
	Save(ctx context.Context, item *StockItem) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]ExpiredReservation, error)
}

func NewStockItem(productID string) *StockItem {
	return &StockItem{ProductID: productID}
}

// ReservedQuantity is the sum of all active reservations.
func (s *StockItem) ReservedQuantity() int {
	total := 0
	for _, r := range s.Reservations {
		total += r.Quantity
	}
	return total
}

func (s *StockItem) AvailableQuantity() int {
	return s.QuantityOnHand - s.ReservedQuantity()
}

// ReservationFor returns the active reservation held by orderID, if any.
func (s *StockItem) ReservationFor(orderID string) (Reservation, bool) {
	for _, r := range s.Reservations {
		if r.OrderID == orderID {
			return r, true
		}
	}
	return Reservation{}, false
}

func (s *StockItem) findReservation(reservationID string) int {
	for i, r := range s.Reservations {
		if r.ID == reservationID {
			return i
		}
	}
	return -1
}

// Reserve holds quantity units for orderID. An order holds at most one
// reservation per product: reserving again for the same order returns the
// existing reservation id without holding more stock.
func (s *StockItem) Reserve(orderID string, quantity int, ttl time.Duration) (string, error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	if existing, ok := s.ReservationFor(orderID); ok {
		return existing.ID, nil
	}
	if available := s.AvailableQuantity(); quantity > available {
		return "", fmt.Errorf("%w. Available: %d, Requested: %d", ErrInsufficientStock, available, quantity)
	}

	now := time.Now().UTC()
	r := Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Quantity:  quantity,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.Reservations = append(s.Reservations, r)
	s.Record(StockReserved{
		ProductID:     s.ProductID,
		ReservationID: r.ID,
		OrderID:       orderID,
		Quantity:      quantity,
		ReservedAt:    now,
	})
	return r.ID, nil
}

// ReleaseReservation removes the reservation. It reports false and changes
// nothing when the reservation is absent.
func (s *StockItem) ReleaseReservation(reservationID string) bool {
	i := s.findReservation(reservationID)
	if i < 0 {
		return false
	}
	r := s.Reservations[i]
	s.Reservations = append(s.Reservations[:i], s.Reservations[i+1:]...)
	s.Record(StockReleased{
		ProductID:     s.ProductID,
		ReservationID: r.ID,
		Quantity:      r.Quantity,
		ReleasedAt:    time.Now().UTC(),
	})
	return true
}

// Deduct converts a reservation into a permanent stock decrease. It reports
// false and changes nothing when the reservation is absent, so deducting
// twice only decrements on-hand once.
func (s *StockItem) Deduct(reservationID string) (bool, error) {
	i := s.findReservation(reservationID)
	if i < 0 {
		return false, nil
	}
	r := s.Reservations[i]
	if err := s.applyAdjustment(-r.Quantity, DeductionReason, SystemActor); err != nil {
		return false, err
	}
	s.Reservations = append(s.Reservations[:i], s.Reservations[i+1:]...)
	s.Record(StockDeducted{
		ProductID:     s.ProductID,
		ReservationID: r.ID,
		Quantity:      r.Quantity,
		DeductedAt:    time.Now().UTC(),
	})
	return true, nil
}

// AdjustStock applies a manual delta to on-hand quantity.
func (s *StockItem) AdjustStock(delta int, reason, actor string) error {
	return s.applyAdjustment(delta, reason, actor)
}

func (s *StockItem) applyAdjustment(delta int, reason, actor string) error {
	resulting := s.QuantityOnHand + delta
	if resulting < 0 {
		return fmt.Errorf("%w. Current: %d, Adjustment: %d", ErrNegativeResultingStock, s.QuantityOnHand, delta)
	}

	now := time.Now().UTC()
	s.QuantityOnHand = resulting
	s.adjustments = append(s.adjustments, Adjustment{
		ID:                uuid.New().String(),
		Delta:             delta,
		ResultingQuantity: resulting,
		Reason:            reason,
		Actor:             actor,
		CreatedAt:         now,
	})
	s.Record(StockAdjusted{
		ProductID:         s.ProductID,
		Delta:             delta,
		ResultingQuantity: resulting,
		Reason:            reason,
		Actor:             actor,
		AdjustedAt:        now,
	})
	if resulting <= LowStockThreshold {
		s.Record(StockLow{ProductID: s.ProductID, QuantityOnHand: resulting, DetectedAt: now})
	}
	return nil
}

// PendingAdjustments returns adjustments made since load, for the repository
// to append to the audit log.
func (s *StockItem) PendingAdjustments() []Adjustment {
	return s.adjustments
}

func (s *StockItem) ClearAdjustments() {
	s.adjustments = nil
}

// IsLow reports whether on-hand quantity is at or below LowStockThreshold.
func (s *StockItem) IsLow() bool {
	return s.QuantityOnHand <= LowStockThreshold
}
