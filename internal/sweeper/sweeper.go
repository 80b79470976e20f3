// Package sweeper frees stock held by checkouts that will not complete, so
// abandoned checkouts do not lock stock forever.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultInterval        = time.Minute
	DefaultBatchSize       = 100
	DefaultCheckoutTimeout = 30 * time.Minute

	TimedOutReason = "Checkout timed out waiting for payment"
)

// Sweeper runs two passes. Checkouts that waited longer than the checkout
// timeout for payment are failed like a declined payment, which makes the
// saga release their stock. Expired reservations are released once their
// checkout failed or when no checkout owns them. Reservations of a checkout
// in progress or confirmed (deduction pending) stay until the saga settles
// them.
type Sweeper struct {
	tx              store.TxManager
	interval        time.Duration
	batchSize       int
	checkoutTimeout time.Duration
	conflicts       messaging.RetryPolicy
	logger          *zap.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithCheckoutTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.checkoutTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(tx store.TxManager, opts ...Option) *Sweeper {
	s := &Sweeper{
		tx:              tx,
		interval:        DefaultInterval,
		batchSize:       DefaultBatchSize,
		checkoutTimeout: DefaultCheckoutTimeout,
		conflicts:       messaging.DefaultRetryPolicy(),
		logger:          zap.NewNop(),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logging.Info(ctx, s.logger, "starting reservation sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, s.logger, "reservation sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logging.Error(ctx, s.logger, "reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce times out one batch of checkouts awaiting payment, then
// releases up to one batch of expired reservations and returns how many were
// released.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if _, err := s.timeOutStalled(ctx); err != nil {
		return 0, err
	}

	var expired []inventory.ExpiredReservation
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		expired, err = tx.Stock().ListExpired(ctx, s.now(), s.batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	released := 0
	for _, r := range expired {
		ok, err := s.release(ctx, r)
		if err != nil {
			logging.Error(ctx, s.logger, "release expired reservation",
				zap.String("product_id", r.ProductID),
				zap.String("reservation_id", r.ReservationID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			released++
		}
	}

	s.metrics.Swept(released)
	if len(expired) > 0 {
		logging.Info(ctx, s.logger, "reservation sweep finished",
			zap.Int("expired", len(expired)),
			zap.Int("released", released),
		)
	}
	return released, nil
}

func (s *Sweeper) timeOutStalled(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.checkoutTimeout)
	var ids []string
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = tx.Checkouts().ListAwaitingPayment(ctx, cutoff, s.batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	timedOut := 0
	for _, id := range ids {
		ok, err := s.timeOut(ctx, id, cutoff)
		if err != nil {
			logging.Error(ctx, s.logger, "time out checkout", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if ok {
			timedOut++
		}
	}

	s.metrics.TimedOut(timedOut)
	if timedOut > 0 {
		logging.Info(ctx, s.logger, "timed out checkouts awaiting payment", zap.Int("count", timedOut))
	}
	return timedOut, nil
}

// timeOut fails the order and reports PaymentFailed to the saga in one unit
// of work. It does nothing when a payment was settled in the meantime.
func (s *Sweeper) timeOut(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	var failed bool
	err := s.conflicts.DoIf(ctx, isConflict, func(ctx context.Context) error {
		failed = false
		return s.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			st, err := tx.Checkouts().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if st.CurrentState != checkout.StateStockReserved || !st.UpdatedAt.Before(cutoff) {
				return nil
			}
			o, err := tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status != order.StatusSubmitted && o.Status != order.StatusStockReserved {
				return nil
			}
			if err := o.MarkAsFailed(TimedOutReason); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			env, err := contracts.NewEnvelope(contracts.PaymentFailed{OrderID: o.ID, Reason: TimedOutReason})
			if err != nil {
				return err
			}
			if err := tx.Outbox().Add(ctx, env); err != nil {
				return err
			}
			failed = true
			return nil
		})
	})
	return failed, err
}

func (s *Sweeper) release(ctx context.Context, r inventory.ExpiredReservation) (bool, error) {
	var released bool
	err := s.conflicts.DoIf(ctx, isConflict, func(ctx context.Context) error {
		released = false
		return s.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			ok, err := releasable(ctx, tx, r.OrderID)
			if err != nil || !ok {
				return err
			}
			released, err = inventory.NewLedger(tx.Stock()).ReleaseReservation(ctx, r.ProductID, r.ReservationID)
			return err
		})
	})
	return released, err
}

// releasable re-checks the checkout inside the releasing transaction. Only a
// failed or missing checkout gives its reservations up.
func releasable(ctx context.Context, tx store.Tx, orderID string) (bool, error) {
	st, err := tx.Checkouts().Get(ctx, orderID)
	if errors.Is(err, checkout.ErrSagaNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return st.CurrentState == checkout.StateFailed, nil
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConcurrencyConflict)
}
