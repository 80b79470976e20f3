package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"go.uber.org/zap"
)

const (
	ConfirmOrderConsumer  = "confirm-order"
	OrderFailedConsumer   = "order-failed"
	OrderProgressConsumer = "order-progress"
)

// Ordering applies saga outcomes to the Order aggregate.
type Ordering struct {
	logger *zap.Logger
}

func NewOrdering(logger *zap.Logger) *Ordering {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ordering{logger: logger}
}

func loadOrder(ctx context.Context, tx store.Tx, id string) (*order.Order, error) {
	o, err := tx.Orders().Get(ctx, id)
	if errors.Is(err, order.ErrOrderNotFound) {
		return nil, messaging.Permanent(err)
	}
	return o, err
}

// ConfirmOrder confirms the order. Confirming a Confirmed order is a no-op;
// an order the payment step has not marked Paid yet is marked Paid first.
func (h *Ordering) ConfirmOrder(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	cmd := msg.(contracts.ConfirmOrder)
	o, err := loadOrder(ctx, tx, cmd.OrderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case order.StatusConfirmed:
		logging.Info(ctx, h.logger, "order already confirmed", zap.String("order_id", o.ID))
		return nil
	case order.StatusFailed:
		return messaging.Permanent(fmt.Errorf("%w: order %s failed and cannot be confirmed", order.ErrInvalidTransition, o.ID))
	case order.StatusSubmitted, order.StatusStockReserved:
		if err := o.MarkAsPaid(); err != nil {
			return err
		}
	}
	if err := o.Confirm(); err != nil {
		return messaging.Permanent(err)
	}
	if err := tx.Orders().Update(ctx, o); err != nil {
		return err
	}
	logging.Info(ctx, h.logger, "order confirmed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
	)
	return nil
}

// OrderFailed marks the order Failed. An order that already failed is left
// alone, and so is a Confirmed order, which is logged.
func (h *Ordering) OrderFailed(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	cmd := msg.(contracts.OrderFailed)
	o, err := loadOrder(ctx, tx, cmd.OrderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case order.StatusFailed:
		return nil
	case order.StatusConfirmed:
		logging.Warn(ctx, h.logger, "failure reported for a confirmed order, ignoring",
			zap.String("order_id", o.ID),
			zap.String("reason", cmd.Reason),
		)
		return nil
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "Checkout failed"
	}
	if err := o.MarkAsFailed(reason); err != nil {
		return messaging.Permanent(err)
	}
	if err := tx.Orders().Update(ctx, o); err != nil {
		return err
	}
	logging.Info(ctx, h.logger, "order failed",
		zap.String("order_id", o.ID),
		zap.String("reason", reason),
	)
	return nil
}

// StockReserved moves a Submitted order to StockReserved once the saga
// reports the reservation. Orders that moved on are left as they are.
func (h *Ordering) StockReserved(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	evt := msg.(contracts.StockReservationCompleted)
	o, err := loadOrder(ctx, tx, evt.OrderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusSubmitted {
		return nil
	}
	if err := o.MarkStockReserved(); err != nil {
		return err
	}
	return tx.Orders().Update(ctx, o)
}
