package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LowStockObserver is notified after a change leaves a product at or below
// LowStockThreshold.
type LowStockObserver func(productID string, onHand int)

// Ledger applies stock operations by product id against a Repository. It is
// cheap to build and is normally created per unit of work over a
// transaction-scoped repository.
type Ledger struct {
	repo     Repository
	ttl      time.Duration
	observer LowStockObserver
}

type LedgerOption func(*Ledger)

func WithReservationTTL(ttl time.Duration) LedgerOption {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLowStockObserver(fn LowStockObserver) LedgerOption {
	return func(l *Ledger) { l.observer = fn }
}

func NewLedger(repo Repository, opts ...LedgerOption) *Ledger {
	l := &Ledger{repo: repo, ttl: DefaultReservationTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve holds quantity units of productID for orderID and returns the
// reservation id.
func (l *Ledger) Reserve(ctx context.Context, productID, orderID string, quantity int) (string, error) {
	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrStockItemNotFound) {
			return "", fmt.Errorf("%w for product %s", ErrInsufficientStock, productID)
		}
		return "", err
	}
	id, err := item.Reserve(orderID, quantity, l.ttl)
	if err != nil {
		return "", fmt.Errorf("product %s: %w", productID, err)
	}
	if len(item.PendingEvents()) == 0 {
		return id, nil
	}
	if err := l.repo.Save(ctx, item); err != nil {
		return "", err
	}
	return id, nil
}

// ReleaseReservation is a no-op when the product or reservation is unknown.
func (l *Ledger) ReleaseReservation(ctx context.Context, productID, reservationID string) (bool, error) {
	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrStockItemNotFound) {
			return false, nil
		}
		return false, err
	}
	if !item.ReleaseReservation(reservationID) {
		return false, nil
	}
	return true, l.repo.Save(ctx, item)
}

// Deduct is a no-op when the product or reservation is unknown.
func (l *Ledger) Deduct(ctx context.Context, productID, reservationID string) (bool, error) {
	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrStockItemNotFound) {
			return false, nil
		}
		return false, err
	}
	ok, err := item.Deduct(reservationID)
	if err != nil || !ok {
		return false, err
	}
	if err := l.repo.Save(ctx, item); err != nil {
		return false, err
	}
	l.notifyLow(item)
	return true, nil
}

// AdjustStock creates the stock item on first use.
func (l *Ledger) AdjustStock(ctx context.Context, productID string, delta int, reason, actor string) (*StockItem, error) {
	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		if !errors.Is(err, ErrStockItemNotFound) {
			return nil, err
		}
		item = NewStockItem(productID)
	}
	if err := item.AdjustStock(delta, reason, actor); err != nil {
		return nil, err
	}
	if err := l.repo.Save(ctx, item); err != nil {
		return nil, err
	}
	l.notifyLow(item)
	return item, nil
}

func (l *Ledger) notifyLow(item *StockItem) {
	if l.observer != nil && item.IsLow() {
		l.observer(item.ProductID, item.QuantityOnHand)
	}
}
