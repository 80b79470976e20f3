package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProduct_IsPurchasable(t *testing.T) {
	tests := []struct {
		name     string
		product  Product
		expected bool
	}{
		{"listed", Product{ID: "p1", Name: "Mug", Price: decimal.RequireFromString("9.99")}, true},
		{"deleted", Product{ID: "p1", Name: "Mug", Price: decimal.RequireFromString("9.99"), IsDeleted: true}, false},
		{"free", Product{ID: "p1", Name: "Mug", Price: decimal.Zero}, false},
		{"unnamed", Product{ID: "p1", Price: decimal.RequireFromString("1")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.product.IsPurchasable())
		})
	}
}
