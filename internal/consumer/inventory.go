package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"go.uber.org/zap"
)

const (
	ReserveStockConsumer = "reserve-stock"
	DeductStockConsumer  = "deduct-stock"
	ReleaseStockConsumer = "release-stock"
)

// Inventory handles the stock commands of the saga.
type Inventory struct {
	ttl      time.Duration
	lowStock inventory.LowStockObserver
	logger   *zap.Logger
}

func NewInventory(ttl time.Duration, lowStock inventory.LowStockObserver, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inventory{ttl: ttl, lowStock: lowStock, logger: logger}
}

func (h *Inventory) ledger(tx store.Tx) *inventory.Ledger {
	opts := []inventory.LedgerOption{inventory.WithReservationTTL(h.ttl)}
	if h.lowStock != nil {
		opts = append(opts, inventory.WithLowStockObserver(h.lowStock))
	}
	return inventory.NewLedger(tx.Stock(), opts...)
}

type demand struct {
	productID string
	quantity  int
}

// mergeItems sums quantities per product and orders the result by product
// id, so concurrent checkouts touch stock rows in the same order.
func mergeItems(items []contracts.LineItem) []demand {
	totals := make(map[string]int)
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}
	out := make([]demand, 0, len(totals))
	for pid, qty := range totals {
		out = append(out, demand{productID: pid, quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

// ReserveStock reserves every item of the order. When one item cannot be
// reserved the reservations made so far are released again and the saga is
// told the reservation failed.
func (h *Inventory) ReserveStock(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	cmd := msg.(contracts.ReserveStockForOrder)
	ledger := h.ledger(tx)

	var made []contracts.Reservation
	for _, d := range mergeItems(cmd.Items) {
		id, err := ledger.Reserve(ctx, d.productID, cmd.OrderID, d.quantity)
		if err == nil {
			made = append(made, contracts.Reservation{ProductID: d.productID, ReservationID: id})
			continue
		}
		reason, business := reservationFailure(d, err)
		if !business {
			return err
		}
		for _, r := range made {
			if _, err := ledger.ReleaseReservation(ctx, r.ProductID, r.ReservationID); err != nil {
				return err
			}
		}
		logging.Info(ctx, h.logger, "stock reservation failed",
			zap.String("order_id", cmd.OrderID),
			zap.String("product_id", d.productID),
			zap.String("reason", reason),
		)
		return publish(ctx, tx, contracts.StockReservationFailed{OrderID: cmd.OrderID, Reason: reason})
	}

	ids, err := contracts.EncodeReservations(made)
	if err != nil {
		return err
	}
	logging.Info(ctx, h.logger, "stock reserved",
		zap.String("order_id", cmd.OrderID),
		zap.Int("products", len(made)),
	)
	return publish(ctx, tx, contracts.StockReservationCompleted{OrderID: cmd.OrderID, ReservationIDsJSON: ids})
}

func reservationFailure(d demand, err error) (string, bool) {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return fmt.Sprintf("Insufficient available stock for product %s (requested %d)", d.productID, d.quantity), true
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return fmt.Sprintf("Invalid quantity %d for product %s", d.quantity, d.productID), true
	}
	return "", false
}

// DeductStock deducts every reservation of the order. Reservations already
// deducted or released are skipped.
func (h *Inventory) DeductStock(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	cmd := msg.(contracts.DeductStock)
	rs, err := contracts.DecodeReservations(cmd.ReservationIDsJSON)
	if err != nil {
		return messaging.Permanent(err)
	}
	ledger := h.ledger(tx)
	for _, r := range rs {
		done, err := ledger.Deduct(ctx, r.ProductID, r.ReservationID)
		if err != nil {
			return err
		}
		if !done {
			logging.Info(ctx, h.logger, "reservation already gone, nothing to deduct",
				zap.String("order_id", cmd.OrderID),
				zap.String("product_id", r.ProductID),
				zap.String("reservation_id", r.ReservationID),
			)
		}
	}
	return nil
}

// ReleaseReservations releases every reservation of the order.
func (h *Inventory) ReleaseReservations(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	cmd := msg.(contracts.ReleaseStockReservations)
	rs, err := contracts.DecodeReservations(cmd.ReservationIDsJSON)
	if err != nil {
		return messaging.Permanent(err)
	}
	ledger := h.ledger(tx)
	released := 0
	for _, r := range rs {
		ok, err := ledger.ReleaseReservation(ctx, r.ProductID, r.ReservationID)
		if err != nil {
			return err
		}
		if ok {
			released++
		}
	}
	logging.Info(ctx, h.logger, "stock reservations released",
		zap.String("order_id", cmd.OrderID),
		zap.Int("released", released),
		zap.Int("requested", len(rs)),
	)
	return nil
}
