package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/aggregate"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
)

var (
	// ErrConcurrencyConflict means another writer changed the row first. The
	// unit of work must be reloaded and retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicate           = errors.New("duplicate record")
)

// MaxOutboxAttempts is the number of failed publishes after which an outbox
// row is no longer picked up.
const MaxOutboxAttempts = 10

// Tx is one unit of work. Everything written through it commits or rolls
// back together, including outbox messages and inbox marks.
type Tx interface {
	Orders() order.Repository
	Stock() inventory.Repository
	Checkouts() checkout.Repository
	Outbox() Outbox
	Inbox() Inbox
}

// TxManager runs fn in a transaction. fn's error rolls it back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Outbox interface {
	Add(ctx context.Context, envs ...contracts.Envelope) error
}

// Inbox records processed message ids per consumer. MarkProcessed reports
// false when the message was already processed.
type Inbox interface {
	MarkProcessed(ctx context.Context, consumer, messageID string) (bool, error)
}

// OutboxRecord is a pending outgoing message.
type OutboxRecord struct {
	ID        int64
	Envelope  contracts.Envelope
	Attempts  int
	CreatedAt time.Time
}

// PublishFunc publishes one outbox record.
type PublishFunc func(ctx context.Context, rec OutboxRecord) error

// OutboxStore drains pending outbox rows in insertion order. Processing stops
// at the first publish failure, which is recorded on the row.
type OutboxStore interface {
	ProcessPending(ctx context.Context, limit int, publish PublishFunc) (int, error)
}

// ReadStore serves the query side.
type ReadStore interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	GetStockItem(ctx context.Context, productID string) (*inventory.StockItem, error)
	ListAdjustments(ctx context.Context, productID string, limit int) ([]inventory.Adjustment, error)
	GetCheckout(ctx context.Context, correlationID string) (*checkout.CheckoutState, error)
}

// TopicForEvent routes domain events recorded by aggregates.
func TopicForEvent(aggregateType string) string {
	if aggregateType == inventory.AggregateType {
		return contracts.TopicInventoryEvents
	}
	return contracts.TopicOrderEvents
}

// EventEnvelopes wraps pending domain events for the outbox.
func EventEnvelopes(aggregateType string, events []aggregate.Event) ([]contracts.Envelope, error) {
	topic := TopicForEvent(aggregateType)
	envs := make([]contracts.Envelope, 0, len(events))
	for _, e := range events {
		env, err := contracts.NewEventEnvelope(topic, e)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
