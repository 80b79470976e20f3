package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/product"
	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 99

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 99")
	ErrInvalidProduct  = errors.New("product_id is required")
)

// Item snapshots the catalog at the time the product was added.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
}

type Cart struct {
	BuyerID   string    `json:"buyer_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps one active cart per buyer. Delete of an absent cart is not an
// error.
type Store interface {
	Get(ctx context.Context, buyerID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, buyerID string) error
}

func New(buyerID string) *Cart {
	return &Cart{BuyerID: buyerID}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// AddItem merges quantities for a product already in the cart and refreshes
// its snapshot.
func (c *Cart) AddItem(item Item) error {
	if item.ProductID == "" {
		return ErrInvalidProduct
	}
	if item.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	for i, existing := range c.Items {
		if existing.ProductID != item.ProductID {
			continue
		}
		merged := existing.Quantity + item.Quantity
		if merged > MaxLineQuantity {
			return fmt.Errorf("%w: would hold %d", ErrInvalidQuantity, merged)
		}
		item.Quantity = merged
		c.Items[i] = item
		c.UpdatedAt = time.Now().UTC()
		return nil
	}
	if item.Quantity > MaxLineQuantity {
		return ErrInvalidQuantity
	}
	c.Items = append(c.Items, item)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveItem reports whether the product was in the cart.
func (c *Cart) RemoveItem(productID string) bool {
	for i, existing := range c.Items {
		if existing.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

type Service struct {
	store   Store
	catalog product.Catalog
}

func NewService(store Store, catalog product.Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

// Get returns an empty cart when the buyer has none.
func (s *Service) Get(ctx context.Context, buyerID string) (*Cart, error) {
	c, err := s.store.Get(ctx, buyerID)
	if errors.Is(err, ErrCartNotFound) {
		return New(buyerID), nil
	}
	return c, err
}

func (s *Service) AddItem(ctx context.Context, buyerID, productID string, quantity int) (*Cart, error) {
	if productID == "" {
		return nil, ErrInvalidProduct
	}
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsPurchasable() {
		return nil, product.ErrProductUnavailable
	}

	c, err := s.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if err := c.AddItem(Item{
		ProductID:   p.ID,
		ProductName: p.Name,
		UnitPrice:   p.Price,
		ImageURL:    p.ImageURL,
		Quantity:    quantity,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) RemoveItem(ctx context.Context, buyerID, productID string) (*Cart, error) {
	c, err := s.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if !c.RemoveItem(productID) {
		return c, nil
	}
	if c.IsEmpty() {
		return c, s.store.Delete(ctx, buyerID)
	}
	return c, s.store.Save(ctx, c)
}

// Clear deletes the buyer's cart. Clearing an absent cart is a no-op.
func (s *Service) Clear(ctx context.Context, buyerID string) error {
	return s.store.Delete(ctx, buyerID)
}
