package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/aggregate"
	"github.com/google/uuid"
)

const (
	TopicCheckoutSagaEvents = "checkout-saga-events"
	TopicInventoryCommands  = "inventory-commands"
	TopicOrderingCommands   = "ordering-commands"
	TopicCartCommands       = "cart-commands"
	TopicOrderEvents        = "order-events"
	TopicInventoryEvents    = "inventory-events"

	deadLetterSuffix = ".dlq"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
)

var topicByType = map[string]string{
	TypeCheckoutStarted:           TopicCheckoutSagaEvents,
	TypeStockReservationCompleted: TopicCheckoutSagaEvents,
	TypeStockReservationFailed:    TopicCheckoutSagaEvents,
	TypePaymentCompleted:          TopicCheckoutSagaEvents,
	TypePaymentFailed:             TopicCheckoutSagaEvents,
	TypeReserveStockForOrder:      TopicInventoryCommands,
	TypeDeductStock:               TopicInventoryCommands,
	TypeReleaseStockReservations:  TopicInventoryCommands,
	TypeConfirmOrder:              TopicOrderingCommands,
	TypeOrderFailed:               TopicOrderingCommands,
	TypeClearCart:                 TopicCartCommands,
}

// TopicFor returns the topic a saga message type is published on.
func TopicFor(messageType string) (string, bool) {
	t, ok := topicByType[messageType]
	return t, ok
}

func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}

// Envelope is the wire format of every message. Topic is routing metadata
// kept in the outbox row, not part of the payload.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	Topic         string          `json:"-"`
}

// NewEnvelope wraps a saga message and routes it to its topic.
func NewEnvelope(msg Message) (Envelope, error) {
	topic, ok := TopicFor(msg.MessageType())
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.MessageType())
	}
	return newEnvelope(topic, msg.MessageType(), msg.CorrelationID(), msg)
}

// NewEventEnvelope wraps a domain event for publication on topic.
func NewEventEnvelope(topic string, e aggregate.Event) (Envelope, error) {
	return newEnvelope(topic, e.EventName(), e.AggregateID(), e)
}

func newEnvelope(topic, msgType, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return Envelope{
		ID:            uuid.New().String(),
		Type:          msgType,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       b,
		Topic:         topic,
	}, nil
}

// Marshal returns the wire bytes.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope reads wire bytes. Missing id or type is malformed.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.ID == "" || env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: id and type are required", ErrMalformedEnvelope)
	}
	return env, nil
}

var decoders = map[string]func([]byte) (Message, error){
	TypeCheckoutStarted:           decodeAs[CheckoutStarted],
	TypeReserveStockForOrder:      decodeAs[ReserveStockForOrder],
	TypeStockReservationCompleted: decodeAs[StockReservationCompleted],
	TypeStockReservationFailed:    decodeAs[StockReservationFailed],
	TypePaymentCompleted:          decodeAs[PaymentCompleted],
	TypePaymentFailed:             decodeAs[PaymentFailed],
	TypeConfirmOrder:              decodeAs[ConfirmOrder],
	TypeDeductStock:               decodeAs[DeductStock],
	TypeReleaseStockReservations:  decodeAs[ReleaseStockReservations],
	TypeClearCart:                 decodeAs[ClearCart],
	TypeOrderFailed:               decodeAs[OrderFailed],
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode returns the saga message carried by env as a value type
// (for example contracts.PaymentCompleted, not a pointer).
func Decode(env Envelope) (Message, error) {
	dec, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
	msg, err := dec(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, env.Type, err)
	}
	if msg.CorrelationID() == "" {
		return nil, fmt.Errorf("%w: %s without correlation id", ErrMalformedEnvelope, env.Type)
	}
	return msg, nil
}
