package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/domain/product"
)

// Read side. These reads run outside any transaction and may be slightly
// behind concurrent writers.

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return (&orderRepo{q: s.db}).Get(ctx, id)
}

func (s *PostgresStore) GetStockItem(ctx context.Context, productID string) (*inventory.StockItem, error) {
	return (&stockRepo{q: s.db}).Get(ctx, productID)
}

func (s *PostgresStore) ListAdjustments(ctx context.Context, productID string, limit int) ([]inventory.Adjustment, error) {
	return listAdjustments(ctx, s.db, productID, limit)
}

func (s *PostgresStore) GetCheckout(ctx context.Context, correlationID string) (*checkout.CheckoutState, error) {
	return (&checkoutRepo{q: s.db}).Get(ctx, correlationID)
}

// PostgresCatalog looks products up in the catalog table.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Get(ctx context.Context, productID string) (*product.Product, error) {
	var p product.Product
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), price, COALESCE(image_url, ''), is_deleted
		FROM products WHERE id = $1`, productID,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	return &p, nil
}
