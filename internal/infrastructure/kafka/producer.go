package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderMessageType = "message-type"
	HeaderMessageID   = "message-id"
)

// Producer writes to any topic; the topic is chosen per message.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	})
}

// PublishEnvelope writes env to its topic keyed by correlation id, so all
// messages of one order land on the same partition.
func (p *Producer) PublishEnvelope(ctx context.Context, env contracts.Envelope) error {
	if env.Topic == "" {
		return fmt.Errorf("envelope %s (%s) has no topic", env.ID, env.Type)
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return p.Publish(ctx, env.Topic, env.CorrelationID, data,
		kafka.Header{Key: HeaderMessageType, Value: []byte(env.Type)},
		kafka.Header{Key: HeaderMessageID, Value: []byte(env.ID)},
	)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
