package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/lib/pq"
)

type stockRepo struct {
	q      execer
	outbox Outbox
}

func (r *stockRepo) Get(ctx context.Context, productID string) (*inventory.StockItem, error) {
	item := inventory.NewStockItem(productID)
	err := r.q.QueryRowContext(ctx,
		`SELECT quantity_on_hand, version FROM stock_items WHERE product_id = $1`,
		productID,
	).Scan(&item.QuantityOnHand, &item.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get stock item %s: %w", productID, err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, quantity, created_at, expires_at
		FROM stock_reservations WHERE product_id = $1 ORDER BY created_at, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("get reservations %s: %w", productID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var res inventory.Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.Quantity, &res.CreatedAt, &res.ExpiresAt); err != nil {
			return nil, err
		}
		item.Reservations = append(item.Reservations, res)
	}
	return item, rows.Err()
}

// Save writes on-hand quantity under the version check, then brings the
// reservation rows in line with the aggregate and appends adjustments.
func (r *stockRepo) Save(ctx context.Context, item *inventory.StockItem) error {
	if item.IsNew() {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO stock_items (product_id, quantity_on_hand, version) VALUES ($1, $2, 1)`,
			item.ProductID, item.QuantityOnHand,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: stock item %s created concurrently", ErrConcurrencyConflict, item.ProductID)
		}
		if err != nil {
			return fmt.Errorf("insert stock item: %w", err)
		}
	} else {
		res, err := r.q.ExecContext(ctx, `
			UPDATE stock_items SET quantity_on_hand = $1, version = version + 1
			WHERE product_id = $2 AND version = $3`,
			item.QuantityOnHand, item.ProductID, item.Version,
		)
		if err != nil {
			return fmt.Errorf("update stock item %s: %w", item.ProductID, err)
		}
		if err := checkVersioned(res, "stock item", item.ProductID); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(item.Reservations))
	for _, res := range item.Reservations {
		ids = append(ids, res.ID)
	}
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM stock_reservations WHERE product_id = $1 AND NOT (id = ANY($2))`,
		item.ProductID, pq.Array(ids),
	); err != nil {
		return fmt.Errorf("delete reservations: %w", err)
	}
	for _, res := range item.Reservations {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO stock_reservations (id, product_id, order_id, quantity, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			res.ID, item.ProductID, res.OrderID, res.Quantity, res.CreatedAt, res.ExpiresAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already holds %s", ErrConcurrencyConflict, res.OrderID, item.ProductID)
		}
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
	}

	for _, adj := range item.PendingAdjustments() {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO stock_adjustments (id, product_id, delta, resulting_quantity, reason, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			adj.ID, item.ProductID, adj.Delta, adj.ResultingQuantity, adj.Reason, adj.Actor, adj.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert adjustment: %w", err)
		}
	}

	item.SetVersion(item.Version + 1)
	envs, err := EventEnvelopes(inventory.AggregateType, item.PendingEvents())
	if err != nil {
		return err
	}
	if err := r.outbox.Add(ctx, envs...); err != nil {
		return err
	}
	item.ClearEvents()
	item.ClearAdjustments()
	return nil
}

func (r *stockRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]inventory.ExpiredReservation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT r.product_id, r.id, r.order_id, r.expires_at
		FROM stock_reservations r
		LEFT JOIN checkout_states c ON c.correlation_id = r.order_id
		WHERE r.expires_at < $1
			AND (c.correlation_id IS NULL OR c.current_state = $2)
		ORDER BY r.expires_at
		LIMIT $3`, before, checkout.StateFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	var out []inventory.ExpiredReservation
	for rows.Next() {
		var e inventory.ExpiredReservation
		if err := rows.Scan(&e.ProductID, &e.ReservationID, &e.OrderID, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func listAdjustments(ctx context.Context, q execer, productID string, limit int) ([]inventory.Adjustment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, delta, resulting_quantity, reason, actor, created_at
		FROM stock_adjustments WHERE product_id = $1
		ORDER BY created_at DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	var out []inventory.Adjustment
	for rows.Next() {
		var a inventory.Adjustment
		if err := rows.Scan(&a.ID, &a.Delta, &a.ResultingQuantity, &a.Reason, &a.Actor, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
