package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/example/ec-checkout-saga/internal/payment"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const numberAttempts = 3

type Handler struct {
	tx        store.TxManager
	readStore store.ReadStore
	cartSvc   *cart.Service
	payments  *payment.Simulator
	validate  *validator.Validate
	conflicts messaging.RetryPolicy
	lowStock  inventory.LowStockObserver
	logger    *zap.Logger
}

type Option func(*Handler)

func WithConflictRetry(p messaging.RetryPolicy) Option {
	return func(h *Handler) { h.conflicts = p }
}

func WithLowStockObserver(fn inventory.LowStockObserver) Option {
	return func(h *Handler) { h.lowStock = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(
	tx store.TxManager,
	readStore store.ReadStore,
	cartSvc *cart.Service,
	payments *payment.Simulator,
	opts ...Option,
) *Handler {
	h := &Handler{
		tx:        tx,
		readStore: readStore,
		cartSvc:   cartSvc,
		payments:  payments,
		validate:  newValidator(),
		conflicts: messaging.DefaultRetryPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddToCart snapshots the catalog price into the buyer's cart
func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*cart.Cart, error) {
	if err := validate(h.validate, cmd); err != nil {
		return nil, err
	}
	return h.cartSvc.AddItem(ctx, cmd.BuyerID, cmd.ProductID, cmd.Quantity)
}

// RemoveFromCart removes a product from the cart
func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (*cart.Cart, error) {
	if err := validate(h.validate, cmd); err != nil {
		return nil, err
	}
	return h.cartSvc.RemoveItem(ctx, cmd.BuyerID, cmd.ProductID)
}

// GetCart returns the buyer's cart, empty when none is stored
func (h *Handler) GetCart(ctx context.Context, buyerID string) (*cart.Cart, error) {
	return h.cartSvc.Get(ctx, buyerID)
}

// SubmitCheckout creates a Submitted order and publishes CheckoutStarted in
// the same transaction. The cart is left alone; the saga clears it once the
// order is confirmed.
func (h *Handler) SubmitCheckout(ctx context.Context, cmd SubmitCheckout) (*order.Order, error) {
	if err := validate(h.validate, cmd); err != nil {
		return nil, err
	}

	items, err := h.checkoutItems(ctx, cmd)
	if err != nil {
		return nil, err
	}

	addr := order.ShippingAddress(cmd.ShippingAddress)
	o, err := order.Create(cmd.BuyerID, cmd.BuyerEmail, addr, items)
	if err != nil {
		return nil, err
	}

	started := contracts.CheckoutStarted{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		BuyerEmail: o.BuyerEmail,
		Items:      make([]contracts.LineItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		started.Items = append(started.Items, contracts.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	env, err := contracts.NewEnvelope(started)
	if err != nil {
		return nil, err
	}

	// A duplicate here is an order number collision; draw a new one.
	for attempt := 1; ; attempt++ {
		err = h.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Orders().Create(ctx, o); err != nil {
				return err
			}
			return tx.Outbox().Add(ctx, env)
		})
		if !errors.Is(err, store.ErrDuplicate) || attempt == numberAttempts {
			break
		}
		o.Renumber()
	}
	if err != nil {
		return nil, fmt.Errorf("submit checkout: %w", err)
	}

	h.logger.Info("checkout submitted",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("buyer_id", o.BuyerID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return o, nil
}

func (h *Handler) checkoutItems(ctx context.Context, cmd SubmitCheckout) ([]order.NewItem, error) {
	if len(cmd.Items) > 0 {
		items := make([]order.NewItem, 0, len(cmd.Items))
		for _, it := range cmd.Items {
			items = append(items, order.NewItem{
				ProductID:   it.ProductID,
				ProductName: it.ProductName,
				UnitPrice:   it.UnitPrice,
				ImageURL:    it.ImageURL,
				Quantity:    it.Quantity,
			})
		}
		return items, nil
	}

	c, err := h.cartSvc.Get(ctx, cmd.BuyerID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, order.ErrEmptyOrder
	}
	items := make([]order.NewItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, order.NewItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			ImageURL:    it.ImageURL,
			Quantity:    it.Quantity,
		})
	}
	return items, nil
}

// SimulatePayment settles the buyer's order. Another buyer's order is
// reported as not found.
func (h *Handler) SimulatePayment(ctx context.Context, cmd SimulatePayment) (*order.Order, error) {
	if err := validate(h.validate, cmd); err != nil {
		return nil, err
	}
	o, err := h.readStore.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != cmd.BuyerID {
		return nil, order.ErrOrderNotFound
	}
	return h.payments.Settle(ctx, cmd.OrderID, cmd.ShouldSucceed)
}

// AdjustStock applies a manual on-hand change and records who made it.
func (h *Handler) AdjustStock(ctx context.Context, cmd AdjustStock) (*inventory.StockItem, error) {
	if err := validate(h.validate, cmd); err != nil {
		return nil, err
	}

	var item *inventory.StockItem
	err := h.conflicts.DoIf(ctx, isConflict, func(ctx context.Context) error {
		return h.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			ledger := inventory.NewLedger(tx.Stock(), inventory.WithLowStockObserver(h.lowStock))
			adjusted, err := ledger.AdjustStock(ctx, cmd.ProductID, cmd.Delta, cmd.Reason, cmd.Actor)
			if err != nil {
				return err
			}
			item = adjusted
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("stock adjusted",
		zap.String("product_id", cmd.ProductID),
		zap.Int("delta", cmd.Delta),
		zap.Int("on_hand", item.QuantityOnHand),
		zap.String("actor", cmd.Actor),
	)
	return item, nil
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConcurrencyConflict)
}
