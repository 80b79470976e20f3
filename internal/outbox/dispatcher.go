// Package outbox drains the transactional outbox to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Publisher interface {
	PublishEnvelope(ctx context.Context, env contracts.Envelope) error
}

// Dispatcher publishes pending outbox rows in insertion order. Publishing
// goes through a circuit breaker; while it is open no batch is attempted, so
// a broker outage does not use up the rows' attempts.
type Dispatcher struct {
	store     store.OutboxStore
	publisher Publisher
	cb        *gobreaker.CircuitBreaker
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithInterval(i time.Duration) Option {
	return func(d *Dispatcher) {
		if i > 0 {
			d.interval = i
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(d *Dispatcher) { d.cb = gobreaker.NewCircuitBreaker(s) }
}

func NewDispatcher(s store.OutboxStore, p Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     s,
		publisher: p,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("outbox-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cb == nil {
		d.cb = gobreaker.NewCircuitBreaker(d.defaultBreaker())
	}
	return d
}

func (d *Dispatcher) defaultBreaker() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "OutboxPublisher",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
}

// Start dispatches every interval until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	logging.Info(ctx, d.logger, "starting outbox dispatcher",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, d.logger, "outbox dispatcher stopping")
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				logging.Error(ctx, d.logger, "outbox dispatch failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce publishes one batch and returns the number published. It
// stops at the first failure, which is recorded on the row.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.cb.State() == gobreaker.StateOpen {
		return 0, nil
	}

	ctx, span := d.tracer.Start(ctx, "outbox.DispatchOnce")
	defer span.End()

	n, err := d.store.ProcessPending(ctx, d.batchSize, func(ctx context.Context, rec store.OutboxRecord) error {
		_, err := d.cb.Execute(func() (interface{}, error) {
			return nil, d.publisher.PublishEnvelope(ctx, rec.Envelope)
		})
		if err != nil {
			d.metrics.PublishFailed()
			logging.Warn(ctx, d.logger, "outbox publish failed",
				zap.Int64("outbox_id", rec.ID),
				zap.String("message_id", rec.Envelope.ID),
				zap.String("message_type", rec.Envelope.Type),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
			return err
		}
		logging.Debug(ctx, d.logger, "outbox message published",
			zap.Int64("outbox_id", rec.ID),
			zap.String("message_type", rec.Envelope.Type),
			zap.String("topic", rec.Envelope.Topic),
		)
		return nil
	})
	d.metrics.Published(n)
	span.SetAttributes(attribute.Int("outbox.published", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}
