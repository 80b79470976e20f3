package consumer

import (
	"context"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"go.uber.org/zap"
)

const ClearCartConsumer = "clear-cart"

type Cart struct {
	carts  cart.Store
	logger *zap.Logger
}

func NewCart(carts cart.Store, logger *zap.Logger) *Cart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cart{carts: carts, logger: logger}
}

// ClearCart deletes the buyer's cart. The cart store is outside the
// transaction; deleting an absent cart succeeds, so a retry after a failed
// commit is harmless.
func (h *Cart) ClearCart(ctx context.Context, _ store.Tx, msg contracts.Message) error {
	cmd := msg.(contracts.ClearCart)
	if err := h.carts.Delete(ctx, cmd.BuyerID); err != nil {
		return err
	}
	logging.Info(ctx, h.logger, "cart cleared",
		zap.String("buyer_id", cmd.BuyerID),
		zap.String("order_id", cmd.OrderID),
	)
	return nil
}
