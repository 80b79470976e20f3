package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStale = errors.New("stale version")

// memRepo is a versioned in-memory Repository. Get returns copies so that
// concurrent writers race the same way they would against a database.
type memRepo struct {
	mu    sync.Mutex
	items map[string]StockItem
	saves int
}

func newMemRepo(items ...*StockItem) *memRepo {
	r := &memRepo{items: make(map[string]StockItem)}
	for _, it := range items {
		it.SetVersion(1)
		it.ClearEvents()
		it.ClearAdjustments()
		r.items[it.ProductID] = copyItem(*it)
	}
	return r
}

func copyItem(it StockItem) StockItem {
	it.Reservations = append([]Reservation(nil), it.Reservations...)
	it.ClearEvents()
	it.ClearAdjustments()
	return it
}

func (r *memRepo) Get(_ context.Context, productID string) (*StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[productID]
	if !ok {
		return nil, ErrStockItemNotFound
	}
	c := copyItem(it)
	return &c, nil
}

func (r *memRepo) Save(_ context.Context, item *StockItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.items[item.ProductID]; ok && cur.Version != item.Version {
		return errStale
	}
	item.SetVersion(item.Version + 1)
	item.ClearEvents()
	item.ClearAdjustments()
	r.items[item.ProductID] = copyItem(*item)
	r.saves++
	return nil
}

func (r *memRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]ExpiredReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ExpiredReservation
	for _, it := range r.items {
		for _, res := range it.Reservations {
			if res.ExpiresAt.Before(before) && len(out) < limit {
				out = append(out, ExpiredReservation{ProductID: it.ProductID, ReservationID: res.ID, OrderID: res.OrderID, ExpiresAt: res.ExpiresAt})
			}
		}
	}
	return out, nil
}

func stocked(productID string, onHand int) *StockItem {
	it := NewStockItem(productID)
	it.QuantityOnHand = onHand
	return it
}

func eventNames(it *StockItem) []string {
	var names []string
	for _, e := range it.PendingEvents() {
		names = append(names, e.EventName())
	}
	return names
}

// ============================================
// StockItem Tests
// ============================================

func TestStockItem_AvailableQuantity(t *testing.T) {
	tests := []struct {
		name     string
		onHand   int
		reserved []int
		expected int
	}{
		{"no reservations", 100, nil, 100},
		{"some reserved", 100, []int{10, 20}, 70},
		{"all reserved", 50, []int{50}, 0},
		{"zero stock", 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := stocked("prod-1", tt.onHand)
			for i, q := range tt.reserved {
				it.Reservations = append(it.Reservations, Reservation{ID: string(rune('a' + i)), Quantity: q})
			}

			assert.Equal(t, tt.expected, it.AvailableQuantity())
		})
	}
}

func TestStockItem_Reserve(t *testing.T) {
	it := stocked("prod-1", 20)

	id, err := it.Reserve("order-1", 5, DefaultReservationTTL)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 20, it.QuantityOnHand)
	assert.Equal(t, 15, it.AvailableQuantity())
	require.Len(t, it.Reservations, 1)
	assert.Equal(t, "order-1", it.Reservations[0].OrderID)
	assert.WithinDuration(t, time.Now().Add(DefaultReservationTTL), it.Reservations[0].ExpiresAt, time.Minute)
	assert.Equal(t, []string{EventStockReserved}, eventNames(it))
}

func TestStockItem_Reserve_SameOrderIsIdempotent(t *testing.T) {
	it := stocked("prod-1", 20)
	first, err := it.Reserve("order-1", 5, DefaultReservationTTL)
	require.NoError(t, err)
	it.ClearEvents()

	second, err := it.Reserve("order-1", 5, DefaultReservationTTL)

	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 15, it.AvailableQuantity())
	assert.Empty(t, it.PendingEvents())
}

func TestStockItem_Reserve_InsufficientStock(t *testing.T) {
	it := stocked("prod-1", 5)

	_, err := it.Reserve("order-1", 10, DefaultReservationTTL)

	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Available: 5, Requested: 10")
	assert.Empty(t, it.Reservations)
}

func TestStockItem_Reserve_InvalidQuantity(t *testing.T) {
	for _, q := range []int{0, -3} {
		it := stocked("prod-1", 5)
		_, err := it.Reserve("order-1", q, DefaultReservationTTL)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
}

func TestStockItem_ReleaseReservation_Twice(t *testing.T) {
	it := stocked("prod-1", 10)
	id, err := it.Reserve("order-1", 4, DefaultReservationTTL)
	require.NoError(t, err)

	assert.True(t, it.ReleaseReservation(id))
	assert.Equal(t, 10, it.AvailableQuantity())

	assert.False(t, it.ReleaseReservation(id))
	assert.Equal(t, 10, it.AvailableQuantity())
	assert.Equal(t, 10, it.QuantityOnHand)
}

func TestStockItem_Deduct_Twice(t *testing.T) {
	it := stocked("prod-1", 30)
	id, err := it.Reserve("order-1", 4, DefaultReservationTTL)
	require.NoError(t, err)
	it.ClearEvents()

	ok, err := it.Deduct(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 26, it.QuantityOnHand)
	assert.Empty(t, it.Reservations)
	assert.Equal(t, []string{EventStockAdjusted, EventStockDeducted}, eventNames(it))

	require.Len(t, it.PendingAdjustments(), 1)
	adj := it.PendingAdjustments()[0]
	assert.Equal(t, -4, adj.Delta)
	assert.Equal(t, 26, adj.ResultingQuantity)
	assert.Equal(t, DeductionReason, adj.Reason)
	assert.Equal(t, SystemActor, adj.Actor)

	ok, err = it.Deduct(id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 26, it.QuantityOnHand)
}

func TestStockItem_AdjustStock(t *testing.T) {
	tests := []struct {
		name     string
		onHand   int
		delta    int
		wantErr  error
		wantHand int
		wantLow  bool
	}{
		{"restock", 5, 20, nil, 25, false},
		{"remove some", 25, -5, nil, 20, false},
		{"drops to threshold", 15, -5, nil, 10, true},
		{"drops to zero", 3, -3, nil, 0, true},
		{"would go negative", 3, -4, ErrNegativeResultingStock, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := stocked("prod-1", tt.onHand)

			err := it.AdjustStock(tt.delta, "count", "admin-1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, it.PendingEvents())
				assert.Empty(t, it.PendingAdjustments())
			} else {
				require.NoError(t, err)
				require.Len(t, it.PendingAdjustments(), 1)
				assert.Equal(t, "admin-1", it.PendingAdjustments()[0].Actor)
			}
			assert.Equal(t, tt.wantHand, it.QuantityOnHand)
			assert.Equal(t, tt.wantLow, containsName(eventNames(it), EventStockLow))
		})
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// ============================================
// Ledger Tests
// ============================================

func TestLedger_Reserve_UnknownProduct(t *testing.T) {
	ledger := NewLedger(newMemRepo())

	_, err := ledger.Reserve(context.Background(), "missing", "order-1", 1)

	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestLedger_ReleaseAndDeduct_UnknownAreNoops(t *testing.T) {
	repo := newMemRepo(stocked("prod-1", 5))
	ledger := NewLedger(repo)
	ctx := context.Background()

	released, err := ledger.ReleaseReservation(ctx, "prod-1", "nope")
	require.NoError(t, err)
	assert.False(t, released)

	deducted, err := ledger.Deduct(ctx, "missing", "nope")
	require.NoError(t, err)
	assert.False(t, deducted)
	assert.Zero(t, repo.saves)
}

func TestLedger_Reserve_RedeliveryDoesNotSave(t *testing.T) {
	repo := newMemRepo(stocked("prod-1", 5))
	ledger := NewLedger(repo)
	ctx := context.Background()

	first, err := ledger.Reserve(ctx, "prod-1", "order-1", 2)
	require.NoError(t, err)
	second, err := ledger.Reserve(ctx, "prod-1", "order-1", 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.saves)
	it, _ := repo.Get(ctx, "prod-1")
	assert.Equal(t, 3, it.AvailableQuantity())
}

func TestLedger_Deduct_NotifiesLowStock(t *testing.T) {
	repo := newMemRepo(stocked("prod-1", 12))
	var lowProduct string
	var lowOnHand int
	ledger := NewLedger(repo, WithLowStockObserver(func(productID string, onHand int) {
		lowProduct, lowOnHand = productID, onHand
	}))
	ctx := context.Background()

	id, err := ledger.Reserve(ctx, "prod-1", "order-1", 3)
	require.NoError(t, err)
	ok, err := ledger.Deduct(ctx, "prod-1", id)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "prod-1", lowProduct)
	assert.Equal(t, 9, lowOnHand)
}

func TestLedger_AdjustStock_CreatesItem(t *testing.T) {
	repo := newMemRepo()
	ledger := NewLedger(repo)

	it, err := ledger.AdjustStock(context.Background(), "prod-new", 40, "initial", "admin-1")

	require.NoError(t, err)
	assert.Equal(t, 40, it.QuantityOnHand)
	assert.Equal(t, 1, it.Version)
}

func TestLedger_ConcurrentReserve_NoOversell(t *testing.T) {
	repo := newMemRepo(stocked("prod-1", 10))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ledger := NewLedger(repo)
			orderID := "order-" + string(rune('A'+n))
			for {
				_, err := ledger.Reserve(ctx, "prod-1", orderID, 1)
				if errors.Is(err, errStale) {
					continue
				}
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
				return
			}
		}(i)
	}
	wg.Wait()

	it, err := repo.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, it.ReservedQuantity())
	assert.Equal(t, 0, it.AvailableQuantity())
}
