package product

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available for purchase")
)

// Product is the catalog view the checkout needs. The catalog itself is
// managed elsewhere; carts and orders keep snapshots of these fields.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	IsDeleted   bool            `json:"is_deleted,omitempty"`
}

// Catalog is a read-only product lookup.
type Catalog interface {
	Get(ctx context.Context, productID string) (*Product, error)
}

// IsPurchasable reports whether the product can be added to a cart.
func (p *Product) IsPurchasable() bool {
	return !p.IsDeleted && p.Name != "" && p.Price.IsPositive()
}
