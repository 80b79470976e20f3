package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/domain/order"
)

type orderRepo struct {
	q      execer
	outbox Outbox
}

const selectOrder = `
	SELECT id, order_number, buyer_id, buyer_email,
		ship_name, ship_email, ship_street, ship_city, ship_state, ship_zip,
		status, subtotal, shipping_cost, tax, total,
		created_at, paid_at, COALESCE(failure_reason, ''), version
	FROM orders WHERE id = $1`

func (r *orderRepo) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	var paidAt sql.NullTime
	a := &o.ShippingAddress
	err := r.q.QueryRowContext(ctx, selectOrder, id).Scan(
		&o.ID, &o.Number, &o.BuyerID, &o.BuyerEmail,
		&a.Name, &a.Email, &a.Street, &a.City, &a.State, &a.ZipCode,
		&o.Status, &o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total,
		&o.CreatedAt, &paidAt, &o.FailureReason, &o.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, product_name, unit_price, COALESCE(image_url, ''), quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.UnitPrice, &it.ImageURL, &it.Quantity, &it.LineTotal); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *orderRepo) Create(ctx context.Context, o *order.Order) error {
	a := o.ShippingAddress
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, buyer_id, buyer_email,
			ship_name, ship_email, ship_street, ship_city, ship_state, ship_zip,
			status, subtotal, shipping_cost, tax, total, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`,
		o.ID, o.Number, o.BuyerID, o.BuyerEmail,
		a.Name, a.Email, a.Street, a.City, a.State, a.ZipCode,
		o.Status, o.Subtotal, o.ShippingCost, o.Tax, o.Total, o.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order %s / %s", ErrDuplicate, o.ID, o.Number)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, unit_price, image_url, quantity, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID, i+1, it.ProductID, it.ProductName, it.UnitPrice, it.ImageURL, it.Quantity, it.LineTotal,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	o.SetVersion(1)
	return r.flushEvents(ctx, o)
}

func (r *orderRepo) Update(ctx context.Context, o *order.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, paid_at = $2, failure_reason = NULLIF($3, ''), version = version + 1
		WHERE id = $4 AND version = $5`,
		o.Status, o.PaidAt, o.FailureReason, o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if err := checkVersioned(res, "order", o.ID); err != nil {
		return err
	}
	o.SetVersion(o.Version + 1)
	return r.flushEvents(ctx, o)
}

func (r *orderRepo) flushEvents(ctx context.Context, o *order.Order) error {
	envs, err := EventEnvelopes(order.AggregateType, o.PendingEvents())
	if err != nil {
		return err
	}
	if err := r.outbox.Add(ctx, envs...); err != nil {
		return err
	}
	o.ClearEvents()
	return nil
}
