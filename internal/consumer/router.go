// Package consumer holds the single-purpose command handlers of the checkout
// flow. A Router runs each handler in a unit of work together with the
// consumer's inbox mark, so a redelivered message has no second effect.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"go.uber.org/zap"
)

// HandlerFunc applies one message inside tx. Returning an error rolls back
// the unit of work including the inbox mark.
type HandlerFunc func(ctx context.Context, tx store.Tx, msg contracts.Message) error

// Outcome of a routed message.
type Outcome string

const (
	Handled   Outcome = "ok"
	Duplicate Outcome = "duplicate"
	Skipped   Outcome = "skipped"
)

type Router struct {
	name      string
	tx        store.TxManager
	handlers  map[string]HandlerFunc
	conflicts messaging.RetryPolicy
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

type RouterOption func(*Router)

func WithConflictRetry(p messaging.RetryPolicy) RouterOption {
	return func(r *Router) { r.conflicts = p }
}

func WithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a router whose inbox rows are keyed by name.
func NewRouter(name string, tx store.TxManager, opts ...RouterOption) *Router {
	r := &Router{
		name:      name,
		tx:        tx,
		handlers:  make(map[string]HandlerFunc),
		conflicts: messaging.DefaultRetryPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("consumer", name))
	return r
}

func (r *Router) Name() string { return r.name }

// On registers h for messageType.
func (r *Router) On(messageType string, h HandlerFunc) *Router {
	r.handlers[messageType] = h
	return r
}

// HandleMessage adapts Handle to the Kafka consumer.
func (r *Router) HandleMessage(ctx context.Context, _, value []byte) error {
	env, err := contracts.ParseEnvelope(value)
	if err != nil {
		return err
	}
	_, err = r.Handle(ctx, env)
	return err
}

// Handle skips message types with no handler. Concurrency conflicts are
// retried by reloading; other errors are returned for the delivery layer to
// retry or dead-letter.
func (r *Router) Handle(ctx context.Context, env contracts.Envelope) (Outcome, error) {
	fields := []zap.Field{
		zap.String("message_id", env.ID),
		zap.String("message_type", env.Type),
		zap.String("order_id", env.CorrelationID),
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		r.metrics.Consumed(r.name, string(Skipped))
		logging.Debug(ctx, r.logger, "no handler for message type", fields...)
		return Skipped, nil
	}

	msg, err := contracts.Decode(env)
	if err != nil {
		return "", r.fail(ctx, err, fields)
	}

	outcome := Handled
	err = r.conflicts.DoIf(ctx, isConflict, func(ctx context.Context) error {
		outcome = Handled
		return r.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			fresh, err := tx.Inbox().MarkProcessed(ctx, r.name, env.ID)
			if err != nil {
				return err
			}
			if !fresh {
				outcome = Duplicate
				return nil
			}
			return h(ctx, tx, msg)
		})
	})
	if err != nil {
		return "", r.fail(ctx, err, fields)
	}

	r.metrics.Consumed(r.name, string(outcome))
	if outcome == Duplicate {
		logging.Debug(ctx, r.logger, "duplicate message skipped", fields...)
	} else {
		logging.Info(ctx, r.logger, "message handled", fields...)
	}
	return outcome, nil
}

func (r *Router) fail(ctx context.Context, err error, fields []zap.Field) error {
	fields = append(fields, zap.Error(err))
	if messaging.IsPermanent(err) {
		r.metrics.Consumed(r.name, "dead_letter")
		logging.Error(ctx, r.logger, "message rejected", fields...)
	} else {
		r.metrics.Consumed(r.name, "retry")
		logging.Warn(ctx, r.logger, "message failed, will be retried", fields...)
	}
	return fmt.Errorf("%s: %w", r.name, err)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConcurrencyConflict)
}

// publish writes msgs to the outbox of tx.
func publish(ctx context.Context, tx store.Tx, msgs ...contracts.Message) error {
	envs := make([]contracts.Envelope, 0, len(msgs))
	for _, m := range msgs {
		env, err := contracts.NewEnvelope(m)
		if err != nil {
			return err
		}
		envs = append(envs, env)
	}
	return tx.Outbox().Add(ctx, envs...)
}
