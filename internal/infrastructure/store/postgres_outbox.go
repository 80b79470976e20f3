package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"go.uber.org/zap"
)

type outboxWriter struct {
	q execer
}

func (w *outboxWriter) Add(ctx context.Context, envs ...contracts.Envelope) error {
	for _, env := range envs {
		if env.Topic == "" {
			return fmt.Errorf("outbox: message %s (%s) has no topic", env.ID, env.Type)
		}
		if _, err := w.q.ExecContext(ctx, `
			INSERT INTO outbox (message_id, topic, message_type, correlation_id, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			env.ID, env.Topic, env.Type, env.CorrelationID, []byte(env.Payload), env.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert outbox message %s: %w", env.ID, err)
		}
	}
	return nil
}

type inbox struct {
	q execer
}

func (i *inbox) MarkProcessed(ctx context.Context, consumer, messageID string) (bool, error) {
	res, err := i.q.ExecContext(ctx, `
		INSERT INTO inbox (consumer, message_id) VALUES ($1, $2)
		ON CONFLICT (consumer, message_id) DO NOTHING`,
		consumer, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("mark %s processed by %s: %w", messageID, consumer, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ProcessPending locks a batch with SKIP LOCKED so several dispatchers can
// run side by side.
func (s *PostgresStore) ProcessPending(ctx context.Context, limit int, publish PublishFunc) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("outbox rollback failed", zap.Error(err))
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, message_id, topic, message_type, correlation_id, payload, occurred_at, attempts, created_at
		FROM outbox
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, MaxOutboxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	var batch []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		var payload []byte
		e := &rec.Envelope
		if err := rows.Scan(&rec.ID, &e.ID, &e.Topic, &e.Type, &e.CorrelationID, &payload, &e.OccurredAt, &rec.Attempts, &rec.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox: %w", err)
		}
		e.Payload = payload
		batch = append(batch, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range batch {
		if pubErr := publish(ctx, rec); pubErr != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET attempts = attempts + 1, last_error = $1 WHERE id = $2`,
				pubErr.Error(), rec.ID,
			); err != nil {
				return 0, fmt.Errorf("record outbox failure: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("commit outbox: %w", err)
			}
			return published, fmt.Errorf("publish %s: %w", rec.Envelope.ID, pubErr)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET published_at = NOW(), last_error = NULL WHERE id = $1`, rec.ID,
		); err != nil {
			return 0, fmt.Errorf("mark outbox published: %w", err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox: %w", err)
	}
	return published, nil
}
