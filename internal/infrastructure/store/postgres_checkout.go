package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/lib/pq"
)

// checkoutRepo stores the reservation pairs as two parallel text[] columns
// so their order survives the round trip.
type checkoutRepo struct {
	q execer
}

func (r *checkoutRepo) Get(ctx context.Context, correlationID string) (*checkout.CheckoutState, error) {
	var s checkout.CheckoutState
	var productIDs, reservationIDs []string
	var completedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT correlation_id, current_state, order_id, buyer_id, buyer_email, submitted_at,
			COALESCE(failure_reason, ''), reservation_product_ids, reservation_ids,
			version, updated_at, completed_at
		FROM checkout_states WHERE correlation_id = $1`, correlationID,
	).Scan(
		&s.CorrelationID, &s.CurrentState, &s.OrderID, &s.BuyerID, &s.BuyerEmail, &s.SubmittedAt,
		&s.FailureReason, pq.Array(&productIDs), pq.Array(&reservationIDs),
		&s.Version, &s.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", checkout.ErrSagaNotFound, correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkout %s: %w", correlationID, err)
	}
	if len(productIDs) != len(reservationIDs) {
		return nil, fmt.Errorf("checkout %s: reservation columns differ in length", correlationID)
	}
	for i := range productIDs {
		s.Reservations = append(s.Reservations, contracts.Reservation{ProductID: productIDs[i], ReservationID: reservationIDs[i]})
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

func (r *checkoutRepo) Create(ctx context.Context, s *checkout.CheckoutState) error {
	productIDs, reservationIDs := splitReservations(s.Reservations)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO checkout_states (correlation_id, current_state, order_id, buyer_id, buyer_email,
			submitted_at, failure_reason, reservation_product_ids, reservation_ids, version, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, 1, $10, $11)`,
		s.CorrelationID, s.CurrentState, s.OrderID, s.BuyerID, s.BuyerEmail,
		s.SubmittedAt, s.FailureReason, pq.Array(productIDs), pq.Array(reservationIDs), s.UpdatedAt, s.CompletedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: checkout %s already exists", ErrConcurrencyConflict, s.CorrelationID)
	}
	if err != nil {
		return fmt.Errorf("insert checkout %s: %w", s.CorrelationID, err)
	}
	s.Version = 1
	return nil
}

func (r *checkoutRepo) Update(ctx context.Context, s *checkout.CheckoutState) error {
	productIDs, reservationIDs := splitReservations(s.Reservations)
	res, err := r.q.ExecContext(ctx, `
		UPDATE checkout_states
		SET current_state = $1, failure_reason = NULLIF($2, ''),
			reservation_product_ids = $3, reservation_ids = $4,
			updated_at = $5, completed_at = $6, version = version + 1
		WHERE correlation_id = $7 AND version = $8`,
		s.CurrentState, s.FailureReason, pq.Array(productIDs), pq.Array(reservationIDs),
		s.UpdatedAt, s.CompletedAt, s.CorrelationID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("update checkout %s: %w", s.CorrelationID, err)
	}
	if err := checkVersioned(res, "checkout", s.CorrelationID); err != nil {
		return err
	}
	s.Version++
	return nil
}

func splitReservations(rs []contracts.Reservation) ([]string, []string) {
	productIDs := make([]string, len(rs))
	reservationIDs := make([]string, len(rs))
	for i, r := range rs {
		productIDs[i] = r.ProductID
		reservationIDs[i] = r.ReservationID
	}
	return productIDs, reservationIDs
}

func (r *checkoutRepo) ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT c.correlation_id
		FROM checkout_states c
		JOIN orders o ON o.id = c.correlation_id
		WHERE c.current_state = $1 AND c.updated_at < $2
			AND o.status IN ($3, $4)
		ORDER BY c.updated_at
		LIMIT $5`,
		checkout.StateStockReserved, before, order.StatusSubmitted, order.StatusStockReserved, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkouts awaiting payment: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
