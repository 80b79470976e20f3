package query

import (
	"context"
	"errors"

	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"go.uber.org/zap"
)

// RecentAdjustments is how many audit rows GetStockLevel returns.
const RecentAdjustments = 20

type Handler struct {
	readStore store.ReadStore
	journal   checkout.Journal
	logger    *zap.Logger
}

type Option func(*Handler)

// WithJournal adds the saga transition history to order reads.
func WithJournal(j checkout.Journal) Option {
	return func(h *Handler) { h.journal = j }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(readStore store.ReadStore, opts ...Option) *Handler {
	h := &Handler{readStore: readStore, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetOrder returns the buyer's order with its checkout progress. Orders of
// other buyers are reported as not found.
func (h *Handler) GetOrder(ctx context.Context, id, buyerID string) (*OrderReadModel, error) {
	o, err := h.readStore.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, order.ErrOrderNotFound
	}

	rm := &OrderReadModel{
		ID:              o.ID,
		OrderNumber:     o.Number,
		BuyerEmail:      o.BuyerEmail,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		Items:           o.Items,
		Subtotal:        o.Subtotal,
		ShippingCost:    o.ShippingCost,
		Tax:             o.Tax,
		Total:           o.Total,
		FailureReason:   o.FailureReason,
		CreatedAt:       o.CreatedAt,
		PaidAt:          o.PaidAt,
	}

	// The saga row appears once CheckoutStarted has been consumed.
	s, err := h.readStore.GetCheckout(ctx, id)
	switch {
	case err == nil:
		rm.CheckoutState = s.CurrentState
		rm.CompletedAt = s.CompletedAt
		if rm.FailureReason == "" {
			rm.FailureReason = s.FailureReason
		}
	case errors.Is(err, checkout.ErrSagaNotFound):
	default:
		return nil, err
	}

	if h.journal != nil {
		history, err := h.journal.History(ctx, id)
		if err != nil {
			logging.Warn(ctx, h.logger, "saga history unavailable", zap.String("order_id", id), zap.Error(err))
		} else {
			rm.History = history
		}
	}
	return rm, nil
}

// GetStockLevel returns on-hand, reserved and available quantities with the
// most recent adjustments first.
func (h *Handler) GetStockLevel(ctx context.Context, productID string) (*InventoryReadModel, error) {
	item, err := h.readStore.GetStockItem(ctx, productID)
	if err != nil {
		return nil, err
	}
	adjustments, err := h.readStore.ListAdjustments(ctx, productID, RecentAdjustments)
	if err != nil {
		return nil, err
	}
	return &InventoryReadModel{
		ProductID:      item.ProductID,
		OnHand:         item.QuantityOnHand,
		ReservedStock:  item.ReservedQuantity(),
		AvailableStock: item.AvailableQuantity(),
		IsLow:          item.IsLow(),
		Reservations:   len(item.Reservations),
		Adjustments:    adjustments,
	}, nil
}
