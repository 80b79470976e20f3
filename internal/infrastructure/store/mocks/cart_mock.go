package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/domain/product"
)

// MockCartStore is a mock implementation of cart.Store for testing
type MockCartStore struct {
	mu    sync.Mutex
	carts map[string]cart.Cart

	// For tracking calls in tests
	SaveCalls   []string
	DeleteCalls []string
	DeleteErr   error
}

// NewMockCartStore creates a new MockCartStore
func NewMockCartStore() *MockCartStore {
	return &MockCartStore{carts: make(map[string]cart.Cart)}
}

func (m *MockCartStore) Get(_ context.Context, buyerID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	c.Items = append([]cart.Item(nil), c.Items...)
	return &c, nil
}

func (m *MockCartStore) Save(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, c.BuyerID)
	saved := *c
	saved.Items = append([]cart.Item(nil), c.Items...)
	m.carts[c.BuyerID] = saved
	return nil
}

func (m *MockCartStore) Delete(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, buyerID)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.carts, buyerID)
	return nil
}

// MockCatalog is a fixed product.Catalog
type MockCatalog struct {
	mu       sync.Mutex
	products map[string]product.Product
}

// NewMockCatalog creates a MockCatalog holding products
func NewMockCatalog(products ...product.Product) *MockCatalog {
	c := &MockCatalog{products: make(map[string]product.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MockCatalog) Put(p product.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *MockCatalog) Get(_ context.Context, productID string) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, productID)
	}
	return &p, nil
}
