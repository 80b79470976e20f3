// Package notification e-mails buyers when their checkout finishes.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/email"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"go.uber.org/zap"
)

const ConsumerName = "order-notifier"

// Mailer is implemented by *email.Service.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, to string, o email.ConfirmedOrder) error
	SendOrderFailed(ctx context.Context, to string, o email.FailedOrder) error
}

// Handler processes order domain events for sending notifications
type Handler struct {
	tx      store.TxManager
	mailer  Mailer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new notification handler. The inbox behind tx keeps
// a redelivered event from mailing the buyer twice.
func NewHandler(tx store.TxManager, mailer Mailer, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tx: tx, mailer: mailer, logger: logger, metrics: m}
}

// HandleMessage processes an event from Kafka
func (h *Handler) HandleMessage(ctx context.Context, _, value []byte) error {
	env, err := contracts.ParseEnvelope(value)
	if err != nil {
		h.metrics.Consumed(ConsumerName, "failed")
		return messaging.Permanent(err)
	}

	var send func(ctx context.Context) error
	switch env.Type {
	case order.EventOrderConfirmed:
		var e order.OrderConfirmed
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return messaging.Permanent(fmt.Errorf("%w: %v", contracts.ErrMalformedEnvelope, err))
		}
		send = func(ctx context.Context) error { return h.mailer.SendOrderConfirmation(ctx, e.BuyerEmail, confirmed(e)) }
	case order.EventOrderFailed:
		var e order.OrderFailed
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return messaging.Permanent(fmt.Errorf("%w: %v", contracts.ErrMalformedEnvelope, err))
		}
		send = func(ctx context.Context) error {
			return h.mailer.SendOrderFailed(ctx, e.BuyerEmail, email.FailedOrder{OrderNumber: e.OrderNumber, Reason: e.Reason})
		}
	default:
		h.metrics.Consumed(ConsumerName, "skipped")
		return nil
	}

	fields := []zap.Field{
		zap.String("order_id", env.CorrelationID),
		zap.String("message_id", env.ID),
		zap.String("message_type", env.Type),
	}

	sent := false
	err = h.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		fresh, err := tx.Inbox().MarkProcessed(ctx, ConsumerName, env.ID)
		if err != nil || !fresh {
			return err
		}
		if err := send(ctx); err != nil {
			return err
		}
		sent = true
		return nil
	})
	if err != nil {
		h.metrics.Consumed(ConsumerName, "failed")
		logging.Warn(ctx, h.logger, "notification failed", append(fields, zap.Error(err))...)
		return err
	}
	if !sent {
		h.metrics.Consumed(ConsumerName, "duplicate")
		return nil
	}
	h.metrics.Consumed(ConsumerName, "ok")
	logging.Info(ctx, h.logger, "notification sent", fields...)
	return nil
}

func confirmed(e order.OrderConfirmed) email.ConfirmedOrder {
	items := make([]email.OrderItem, 0, len(e.Items))
	for _, it := range e.Items {
		name := it.ProductName
		if name == "" {
			name = it.ProductID
		}
		items = append(items, email.OrderItem{
			Name:      name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return email.ConfirmedOrder{OrderNumber: e.OrderNumber, Items: items, Total: e.Total}
}
