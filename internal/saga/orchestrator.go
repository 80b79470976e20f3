// Package saga runs the checkout state machine against the store. Each
// inbound event is one unit of work: inbox mark, load, transition, save and
// outgoing commands commit together.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerName keys the orchestrator's inbox rows.
const ConsumerName = "checkout-saga"

type Orchestrator struct {
	tx        store.TxManager
	journal   checkout.Journal
	conflicts messaging.RetryPolicy
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithJournal records every applied transition after commit.
func WithJournal(j checkout.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithConflictRetry bounds how often a unit of work is reloaded and
// reapplied after a concurrency conflict.
func WithConflictRetry(p messaging.RetryPolicy) Option {
	return func(o *Orchestrator) { o.conflicts = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(tx store.TxManager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tx:        tx,
		journal:   NopJournal{},
		conflicts: messaging.DefaultRetryPolicy(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("checkout-saga"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result describes what one Handle call did.
type Result struct {
	Duplicate bool
	Outcome   checkout.Outcome
}

// HandleMessage adapts Handle to the Kafka consumer.
func (o *Orchestrator) HandleMessage(ctx context.Context, _, value []byte) error {
	env, err := contracts.ParseEnvelope(value)
	if err != nil {
		return err
	}
	_, err = o.Handle(ctx, env)
	return err
}

// Handle applies one saga event. Errors that redelivery cannot fix are
// marked permanent; concurrency conflicts are retried here and surface as
// transient once the retries are used up.
func (o *Orchestrator) Handle(ctx context.Context, env contracts.Envelope) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "saga.Handle", trace.WithAttributes(
		attribute.String("message.id", env.ID),
		attribute.String("message.type", env.Type),
		attribute.String("order.id", env.CorrelationID),
	))
	defer span.End()

	fields := []zap.Field{
		zap.String("message_id", env.ID),
		zap.String("message_type", env.Type),
		zap.String("order_id", env.CorrelationID),
	}

	msg, err := contracts.Decode(env)
	if err != nil {
		return Result{}, o.fail(ctx, span, env, err, fields)
	}

	var res Result
	err = o.conflicts.DoIf(ctx, isConflict, func(ctx context.Context) error {
		var applyErr error
		res, applyErr = o.apply(ctx, env, msg)
		return applyErr
	})
	if err != nil {
		err = messaging.PermanentIf(err, checkout.ErrSagaNotFound, checkout.ErrInvalidEvent, checkout.ErrUnexpectedMessage)
		return Result{}, o.fail(ctx, span, env, err, fields)
	}

	switch {
	case res.Duplicate:
		o.metrics.Consumed(ConsumerName, "duplicate")
		logging.Debug(ctx, o.logger, "duplicate saga event skipped", fields...)
	case res.Outcome.Ignored:
		o.metrics.Consumed(ConsumerName, "skipped")
		o.metrics.Ignored(string(res.Outcome.From), env.Type)
		logging.Info(ctx, o.logger, "saga event ignored in current state",
			append(fields, zap.String("state", string(res.Outcome.From)))...)
	default:
		o.metrics.Consumed(ConsumerName, "ok")
		o.metrics.Transition(string(res.Outcome.From), env.Type, string(res.Outcome.To))
		span.SetAttributes(attribute.String("saga.to", string(res.Outcome.To)))
		logging.Info(ctx, o.logger, "saga transition applied", append(fields,
			zap.String("from", string(res.Outcome.From)),
			zap.String("to", string(res.Outcome.To)),
			zap.Strings("commands", commandTypes(res.Outcome.Commands)),
		)...)
		o.record(ctx, env, res.Outcome, fields)
	}
	return res, nil
}

func (o *Orchestrator) apply(ctx context.Context, env contracts.Envelope, msg contracts.Message) (Result, error) {
	var res Result
	err := o.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res = Result{}

		fresh, err := tx.Inbox().MarkProcessed(ctx, ConsumerName, env.ID)
		if err != nil {
			return err
		}
		if !fresh {
			res.Duplicate = true
			return nil
		}

		current, err := tx.Checkouts().Get(ctx, msg.CorrelationID())
		if err != nil {
			if !errors.Is(err, checkout.ErrSagaNotFound) {
				return err
			}
			current = nil
		}

		out, err := checkout.Transition(current, msg, o.now())
		if err != nil {
			return err
		}
		res.Outcome = out
		if out.Ignored {
			return nil
		}

		if out.Created {
			err = tx.Checkouts().Create(ctx, out.Next)
		} else {
			err = tx.Checkouts().Update(ctx, out.Next)
		}
		if err != nil {
			return err
		}

		envs := make([]contracts.Envelope, 0, len(out.Commands))
		for _, cmd := range out.Commands {
			e, err := contracts.NewEnvelope(cmd)
			if err != nil {
				return err
			}
			envs = append(envs, e)
		}
		if len(envs) == 0 {
			return nil
		}
		return tx.Outbox().Add(ctx, envs...)
	})
	return res, err
}

func (o *Orchestrator) record(ctx context.Context, env contracts.Envelope, out checkout.Outcome, fields []zap.Field) {
	entry := checkout.JournalEntry{
		SagaID:     out.Next.CorrelationID,
		Seq:        int64(out.Next.Version),
		MessageID:  env.ID,
		Event:      env.Type,
		From:       out.From,
		To:         out.To,
		Commands:   commandTypes(out.Commands),
		RecordedAt: o.now(),
	}
	if err := o.journal.Record(ctx, entry); err != nil {
		logging.Warn(ctx, o.logger, "saga journal write failed", append(fields, zap.Error(err))...)
	}
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, env contracts.Envelope, err error, fields []zap.Field) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	fields = append(fields, zap.Error(err))
	if messaging.IsPermanent(err) {
		o.metrics.Consumed(ConsumerName, "dead_letter")
		logging.Error(ctx, o.logger, "saga event rejected", fields...)
	} else {
		o.metrics.Consumed(ConsumerName, "retry")
		logging.Warn(ctx, o.logger, "saga event failed, will be retried", fields...)
	}
	return fmt.Errorf("saga %s %s: %w", env.Type, env.ID, err)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConcurrencyConflict)
}

func commandTypes(cmds []contracts.Message) []string {
	if len(cmds) == 0 {
		return nil
	}
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.MessageType()
	}
	return out
}

// NopJournal discards entries.
type NopJournal struct{}

func (NopJournal) Record(context.Context, checkout.JournalEntry) error { return nil }

func (NopJournal) History(context.Context, string) ([]checkout.JournalEntry, error) {
	return nil, nil
}
