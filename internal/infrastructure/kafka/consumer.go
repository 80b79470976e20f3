package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	HeaderDeadLetterError     = "dlq-error"
	HeaderDeadLetterPartition = "dlq-partition"
	HeaderDeadLetterOffset    = "dlq-offset"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// DeadLetterPublisher receives messages that failed permanently or ran out
// of retries.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group. An offset is committed only
// after its message was handled or dead-lettered.
type Consumer struct {
	reader  messageReader
	name    string
	retry   messaging.RetryPolicy
	dlq     DeadLetterPublisher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type ConsumerOption func(*Consumer)

func WithRetryPolicy(p messaging.RetryPolicy) ConsumerOption {
	return func(c *Consumer) { c.retry = p }
}

func WithDeadLetter(p DeadLetterPublisher) ConsumerOption {
	return func(c *Consumer) { c.dlq = p }
}

func WithLogger(l *zap.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, groupID, opts...)
}

func newConsumer(reader messageReader, name string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader: reader,
		name:   name,
		retry:  messaging.DefaultRetryPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("consumer", name))
	return c
}

// Consume blocks until ctx is cancelled, the reader is closed, or a failed
// message cannot be dead-lettered.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("fetch message", zap.Error(err))
			continue
		}

		if err := c.process(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, handler MessageHandler) error {
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return handler(ctx, msg.Key, msg.Value)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("key", string(msg.Key)),
		zap.Bool("permanent", messaging.IsPermanent(err)),
		zap.Error(err),
	}
	if c.dlq == nil {
		c.logger.Error("message failed and no dead-letter topic is configured", fields...)
		return fmt.Errorf("consumer %s: offset %d: %w", c.name, msg.Offset, err)
	}

	dlqTopic := contracts.DeadLetterTopic(msg.Topic)
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDeadLetterError, Value: []byte(err.Error())},
		kafka.Header{Key: HeaderDeadLetterPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderDeadLetterOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	if pubErr := c.dlq.Publish(ctx, dlqTopic, string(msg.Key), msg.Value, headers...); pubErr != nil {
		c.logger.Error("dead-letter publish failed", append(fields, zap.NamedError("dlq_error", pubErr))...)
		return fmt.Errorf("dead-letter %s offset %d: %w", dlqTopic, msg.Offset, pubErr)
	}
	c.metrics.Consumed(c.name, "dead_letter")
	c.logger.Warn("message dead-lettered", append(fields, zap.String("dlq_topic", dlqTopic))...)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
