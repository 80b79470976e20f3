// Package payment simulates the payment step of checkout. A settled payment
// updates the order and reports the outcome to the saga in one unit of work.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// AutoPaymentConsumer keys the inbox of the automatic simulator.
	AutoPaymentConsumer = "payment-simulator"

	DeclinedReason = "Payment declined (simulated)"
)

var ErrNotPayable = errors.New("order is not awaiting payment")

// Policy decides whether an automatic payment for o succeeds.
type Policy func(o *order.Order) bool

func AlwaysApprove(*order.Order) bool { return true }

// DeclineAbove declines orders whose total exceeds limit.
func DeclineAbove(limit decimal.Decimal) Policy {
	return func(o *order.Order) bool { return !o.Total.GreaterThan(limit) }
}

type Simulator struct {
	tx        store.TxManager
	policy    Policy
	conflicts messaging.RetryPolicy
	logger    *zap.Logger
}

type Option func(*Simulator)

func WithPolicy(p Policy) Option {
	return func(s *Simulator) { s.policy = p }
}

func WithConflictRetry(p messaging.RetryPolicy) Option {
	return func(s *Simulator) { s.conflicts = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

func NewSimulator(tx store.TxManager, opts ...Option) *Simulator {
	s := &Simulator{
		tx:        tx,
		policy:    AlwaysApprove,
		conflicts: messaging.DefaultRetryPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func payable(o *order.Order) bool {
	return o.Status == order.StatusSubmitted || o.Status == order.StatusStockReserved
}

// Settle records a simulated payment for orderID. It fails with
// ErrNotPayable once the order was paid, confirmed or failed, and until the
// checkout has reserved the stock.
func (s *Simulator) Settle(ctx context.Context, orderID string, succeed bool) (*order.Order, error) {
	var settled *order.Order
	err := s.conflicts.DoIf(ctx, isConflict, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			o, err := tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if !payable(o) {
				return fmt.Errorf("%w: order %s is %s", ErrNotPayable, o.ID, o.Status)
			}
			if err := awaitingPayment(ctx, tx, o.ID); err != nil {
				return err
			}
			if err := s.apply(ctx, tx, o, succeed); err != nil {
				return err
			}
			settled = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// awaitingPayment checks the saga side: the checkout only accepts a payment
// outcome once it is StockReserved.
func awaitingPayment(ctx context.Context, tx store.Tx, orderID string) error {
	st, err := tx.Checkouts().Get(ctx, orderID)
	if errors.Is(err, checkout.ErrSagaNotFound) {
		return fmt.Errorf("%w: checkout of order %s has not started", ErrNotPayable, orderID)
	}
	if err != nil {
		return err
	}
	if st.CurrentState != checkout.StateStockReserved {
		return fmt.Errorf("%w: checkout of order %s is %s", ErrNotPayable, orderID, st.CurrentState)
	}
	return nil
}

// OnStockReserved pays for an order as soon as its stock is reserved,
// approving or declining it by policy. Orders no longer awaiting payment are
// skipped.
func (s *Simulator) OnStockReserved(ctx context.Context, tx store.Tx, msg contracts.Message) error {
	evt := msg.(contracts.StockReservationCompleted)
	o, err := tx.Orders().Get(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return messaging.Permanent(err)
		}
		return err
	}
	if !payable(o) {
		return nil
	}
	return s.apply(ctx, tx, o, s.policy(o))
}

func (s *Simulator) apply(ctx context.Context, tx store.Tx, o *order.Order, succeed bool) error {
	var outcome contracts.Message
	if succeed {
		if err := o.MarkAsPaid(); err != nil {
			return err
		}
		outcome = contracts.PaymentCompleted{OrderID: o.ID}
	} else {
		if err := o.MarkAsFailed(DeclinedReason); err != nil {
			return err
		}
		outcome = contracts.PaymentFailed{OrderID: o.ID, Reason: DeclinedReason}
	}
	if err := tx.Orders().Update(ctx, o); err != nil {
		return err
	}
	env, err := contracts.NewEnvelope(outcome)
	if err != nil {
		return err
	}
	if err := tx.Outbox().Add(ctx, env); err != nil {
		return err
	}
	logging.Info(ctx, s.logger, "payment simulated",
		zap.String("order_id", o.ID),
		zap.Bool("succeeded", succeed),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConcurrencyConflict)
}
