package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
)

// MockStore is an in-memory store with the transactional behaviour of the
// Postgres implementation: writes are buffered until commit, versioned
// writes reject stale versions both when issued and at commit, and a
// failed transaction leaves nothing behind.
type MockStore struct {
	mu          sync.Mutex
	orders      map[string]order.Order
	stock       map[string]inventory.StockItem
	adjustments map[string][]inventory.Adjustment
	checkouts   map[string]checkout.CheckoutState
	outbox      []store.OutboxRecord
	published   map[int64]bool
	inbox       map[string]bool
	nextID      int64

	// For tracking calls in tests
	WithinTxCalls int
	Commits       int

	// Failure injection: the next N checkout writes or commits fail with
	// store.ErrConcurrencyConflict; CommitErr fails every commit.
	CheckoutConflicts int
	CommitConflicts   int
	CommitErr         error
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		orders:      make(map[string]order.Order),
		stock:       make(map[string]inventory.StockItem),
		adjustments: make(map[string][]inventory.Adjustment),
		checkouts:   make(map[string]checkout.CheckoutState),
		published:   make(map[int64]bool),
		inbox:       make(map[string]bool),
	}
}

func copyOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	o.ClearEvents()
	return o
}

func copyStock(it inventory.StockItem) inventory.StockItem {
	it.Reservations = append([]inventory.Reservation(nil), it.Reservations...)
	it.ClearEvents()
	it.ClearAdjustments()
	return it
}

func copyCheckout(s checkout.CheckoutState) checkout.CheckoutState {
	s.Reservations = append([]contracts.Reservation(nil), s.Reservations...)
	return s
}

func inboxKey(consumer, messageID string) string {
	return consumer + "|" + messageID
}

// ============================================
// Seeding and inspection helpers
// ============================================

// SeedOrder stores o as committed at version 1.
func (m *MockStore) SeedOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.SetVersion(1)
	o.ClearEvents()
	m.orders[o.ID] = copyOrder(*o)
}

// SeedStock creates a stock item with onHand units at version 1.
func (m *MockStore) SeedStock(productID string, onHand int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := inventory.NewStockItem(productID)
	it.QuantityOnHand = onHand
	it.SetVersion(1)
	m.stock[productID] = *it
}

// SeedCheckout stores s as committed at version 1.
func (m *MockStore) SeedCheckout(s *checkout.CheckoutState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Version = 1
	m.checkouts[s.CorrelationID] = copyCheckout(*s)
}

// SetReservationExpiry rewrites the expiry of a committed reservation.
func (m *MockStore) SetReservationExpiry(productID, reservationID string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.stock[productID]
	for i := range it.Reservations {
		if it.Reservations[i].ID == reservationID {
			it.Reservations[i].ExpiresAt = expiresAt
		}
	}
	m.stock[productID] = it
}

func (m *MockStore) Order(id string) (*order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	c := copyOrder(o)
	return &c, true
}

func (m *MockStore) StockItem(productID string) (*inventory.StockItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.stock[productID]
	if !ok {
		return nil, false
	}
	c := copyStock(it)
	return &c, true
}

func (m *MockStore) Checkout(id string) (*checkout.CheckoutState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.checkouts[id]
	if !ok {
		return nil, false
	}
	c := copyCheckout(s)
	return &c, true
}

// OutboxMessages returns every committed outbox envelope in insertion order.
func (m *MockStore) OutboxMessages() []contracts.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	envs := make([]contracts.Envelope, 0, len(m.outbox))
	for _, rec := range m.outbox {
		envs = append(envs, rec.Envelope)
	}
	return envs
}

// OutboxTypes returns the message types of committed outbox envelopes on
// topic, in insertion order.
func (m *MockStore) OutboxTypes(topic string) []string {
	var types []string
	for _, env := range m.OutboxMessages() {
		if env.Topic == topic {
			types = append(types, env.Type)
		}
	}
	return types
}

// IsPublished reports whether the outbox record was marked published.
func (m *MockStore) IsPublished(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[id]
}

// OutboxAttempts returns the failed publish count of an outbox record.
func (m *MockStore) OutboxAttempts(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.outbox {
		if rec.ID == id {
			return rec.Attempts
		}
	}
	return 0
}

func (m *MockStore) IsProcessed(consumer, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbox[inboxKey(consumer, messageID)]
}

// ============================================
// store.TxManager
// ============================================

func (m *MockStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	m.WithinTxCalls++
	m.mu.Unlock()

	tx := newMockTx(m)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MockStore) commit(tx *mockTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitErr != nil {
		return m.CommitErr
	}
	if m.CommitConflicts > 0 {
		m.CommitConflicts--
		return fmt.Errorf("%w: injected at commit", store.ErrConcurrencyConflict)
	}

	for id, w := range tx.orders {
		if cur, ok := m.orders[id]; ok && cur.Version != w.base {
			return fmt.Errorf("%w: order %s", store.ErrConcurrencyConflict, id)
		} else if !ok && w.base != 0 {
			return fmt.Errorf("%w: order %s vanished", store.ErrConcurrencyConflict, id)
		}
	}
	for id, w := range tx.stock {
		if cur, ok := m.stock[id]; ok && cur.Version != w.base {
			return fmt.Errorf("%w: stock item %s", store.ErrConcurrencyConflict, id)
		} else if !ok && w.base != 0 {
			return fmt.Errorf("%w: stock item %s vanished", store.ErrConcurrencyConflict, id)
		}
	}
	for id, w := range tx.checkouts {
		if cur, ok := m.checkouts[id]; ok && cur.Version != w.base {
			return fmt.Errorf("%w: checkout %s", store.ErrConcurrencyConflict, id)
		} else if !ok && w.base != 0 {
			return fmt.Errorf("%w: checkout %s vanished", store.ErrConcurrencyConflict, id)
		}
	}
	for _, k := range tx.inbox {
		if m.inbox[k] {
			return fmt.Errorf("%w: inbox %s", store.ErrConcurrencyConflict, k)
		}
	}

	for id, w := range tx.orders {
		m.orders[id] = w.value
	}
	for id, w := range tx.stock {
		m.stock[id] = w.value
	}
	for id, adj := range tx.adjustments {
		m.adjustments[id] = append(m.adjustments[id], adj...)
	}
	for id, w := range tx.checkouts {
		m.checkouts[id] = w.value
	}
	for _, k := range tx.inbox {
		m.inbox[k] = true
	}
	for _, env := range tx.outbox {
		m.nextID++
		m.outbox = append(m.outbox, store.OutboxRecord{ID: m.nextID, Envelope: env, CreatedAt: time.Now().UTC()})
	}
	m.Commits++
	return nil
}

// ============================================
// store.OutboxStore
// ============================================

func (m *MockStore) ProcessPending(ctx context.Context, limit int, publish store.PublishFunc) (int, error) {
	m.mu.Lock()
	var batch []store.OutboxRecord
	for _, rec := range m.outbox {
		if len(batch) == limit {
			break
		}
		if !m.published[rec.ID] && rec.Attempts < store.MaxOutboxAttempts {
			batch = append(batch, rec)
		}
	}
	m.mu.Unlock()

	published := 0
	for _, rec := range batch {
		if err := publish(ctx, rec); err != nil {
			m.mu.Lock()
			for i := range m.outbox {
				if m.outbox[i].ID == rec.ID {
					m.outbox[i].Attempts++
				}
			}
			m.mu.Unlock()
			return published, fmt.Errorf("publish %s: %w", rec.Envelope.ID, err)
		}
		m.mu.Lock()
		m.published[rec.ID] = true
		m.mu.Unlock()
		published++
	}
	return published, nil
}

// ============================================
// store.ReadStore
// ============================================

func (m *MockStore) GetOrder(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.Order(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, id)
	}
	return o, nil
}

func (m *MockStore) GetStockItem(_ context.Context, productID string) (*inventory.StockItem, error) {
	it, ok := m.StockItem(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, productID)
	}
	return it, nil
}

func (m *MockStore) ListAdjustments(_ context.Context, productID string, limit int) ([]inventory.Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.adjustments[productID]
	out := make([]inventory.Adjustment, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MockStore) GetCheckout(_ context.Context, correlationID string) (*checkout.CheckoutState, error) {
	s, ok := m.Checkout(correlationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkout.ErrSagaNotFound, correlationID)
	}
	return s, nil
}

// ============================================
// Transaction
// ============================================

type staged[T any] struct {
	base  int
	value T
}

type mockTx struct {
	m           *MockStore
	orders      map[string]staged[order.Order]
	stock       map[string]staged[inventory.StockItem]
	adjustments map[string][]inventory.Adjustment
	checkouts   map[string]staged[checkout.CheckoutState]
	inbox       []string
	outbox      []contracts.Envelope
}

func newMockTx(m *MockStore) *mockTx {
	return &mockTx{
		m:           m,
		orders:      make(map[string]staged[order.Order]),
		stock:       make(map[string]staged[inventory.StockItem]),
		adjustments: make(map[string][]inventory.Adjustment),
		checkouts:   make(map[string]staged[checkout.CheckoutState]),
	}
}

func (t *mockTx) Orders() order.Repository       { return mockOrders{t} }
func (t *mockTx) Stock() inventory.Repository    { return mockStock{t} }
func (t *mockTx) Checkouts() checkout.Repository { return mockCheckouts{t} }
func (t *mockTx) Outbox() store.Outbox           { return mockOutbox{t} }
func (t *mockTx) Inbox() store.Inbox             { return mockInbox{t} }

func (t *mockTx) addEvents(events []contracts.Envelope) {
	t.outbox = append(t.outbox, events...)
}

type mockOutbox struct{ t *mockTx }

func (o mockOutbox) Add(_ context.Context, envs ...contracts.Envelope) error {
	for _, env := range envs {
		if env.Topic == "" {
			return fmt.Errorf("outbox: message %s (%s) has no topic", env.ID, env.Type)
		}
	}
	o.t.outbox = append(o.t.outbox, envs...)
	return nil
}

type mockInbox struct{ t *mockTx }

func (i mockInbox) MarkProcessed(_ context.Context, consumer, messageID string) (bool, error) {
	k := inboxKey(consumer, messageID)
	for _, pending := range i.t.inbox {
		if pending == k {
			return false, nil
		}
	}
	i.t.m.mu.Lock()
	done := i.t.m.inbox[k]
	i.t.m.mu.Unlock()
	if done {
		return false, nil
	}
	i.t.inbox = append(i.t.inbox, k)
	return true, nil
}

type mockOrders struct{ t *mockTx }

func (r mockOrders) current(id string) (order.Order, int, bool) {
	if w, ok := r.t.orders[id]; ok {
		return w.value, w.base, true
	}
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	o, ok := r.t.m.orders[id]
	return o, o.Version, ok
}

func (r mockOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, _, ok := r.current(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, id)
	}
	c := copyOrder(o)
	return &c, nil
}

func (r mockOrders) Create(_ context.Context, o *order.Order) error {
	if _, _, ok := r.current(o.ID); ok {
		return fmt.Errorf("%w: order %s", store.ErrDuplicate, o.ID)
	}
	o.SetVersion(1)
	return r.stage(o, 0)
}

func (r mockOrders) Update(_ context.Context, o *order.Order) error {
	cur, base, ok := r.current(o.ID)
	if !ok {
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, o.ID)
	}
	if cur.Version != o.Version {
		return fmt.Errorf("%w: order %s", store.ErrConcurrencyConflict, o.ID)
	}
	o.SetVersion(o.Version + 1)
	return r.stage(o, base)
}

func (r mockOrders) stage(o *order.Order, base int) error {
	envs, err := store.EventEnvelopes(order.AggregateType, o.PendingEvents())
	if err != nil {
		return err
	}
	r.t.addEvents(envs)
	o.ClearEvents()
	r.t.orders[o.ID] = staged[order.Order]{base: base, value: copyOrder(*o)}
	return nil
}

type mockStock struct{ t *mockTx }

func (r mockStock) current(productID string) (inventory.StockItem, int, bool) {
	if w, ok := r.t.stock[productID]; ok {
		return w.value, w.base, true
	}
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	it, ok := r.t.m.stock[productID]
	return it, it.Version, ok
}

func (r mockStock) Get(_ context.Context, productID string) (*inventory.StockItem, error) {
	it, _, ok := r.current(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, productID)
	}
	c := copyStock(it)
	return &c, nil
}

func (r mockStock) Save(_ context.Context, item *inventory.StockItem) error {
	cur, base, ok := r.current(item.ProductID)
	switch {
	case ok && cur.Version != item.Version:
		return fmt.Errorf("%w: stock item %s", store.ErrConcurrencyConflict, item.ProductID)
	case !ok && !item.IsNew():
		return fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, item.ProductID)
	}

	envs, err := store.EventEnvelopes(inventory.AggregateType, item.PendingEvents())
	if err != nil {
		return err
	}
	r.t.addEvents(envs)
	r.t.adjustments[item.ProductID] = append(r.t.adjustments[item.ProductID], item.PendingAdjustments()...)
	item.SetVersion(item.Version + 1)
	item.ClearEvents()
	item.ClearAdjustments()
	r.t.stock[item.ProductID] = staged[inventory.StockItem]{base: base, value: copyStock(*item)}
	return nil
}

func (r mockStock) ListExpired(_ context.Context, before time.Time, limit int) ([]inventory.ExpiredReservation, error) {
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	var out []inventory.ExpiredReservation
	for _, it := range r.t.m.stock {
		for _, res := range it.Reservations {
			if res.ExpiresAt.Before(before) && r.releasable(res.OrderID) {
				out = append(out, inventory.ExpiredReservation{
					ProductID:     it.ProductID,
					ReservationID: res.ID,
					OrderID:       res.OrderID,
					ExpiresAt:     res.ExpiresAt,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// releasable mirrors the checkout join of the Postgres query. The caller
// holds the store lock.
func (r mockStock) releasable(orderID string) bool {
	s, ok := r.t.m.checkouts[orderID]
	return !ok || s.CurrentState == checkout.StateFailed
}

type mockCheckouts struct{ t *mockTx }

func (r mockCheckouts) current(id string) (checkout.CheckoutState, int, bool) {
	if w, ok := r.t.checkouts[id]; ok {
		return w.value, w.base, true
	}
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	s, ok := r.t.m.checkouts[id]
	return s, s.Version, ok
}

func (r mockCheckouts) injectedConflict() error {
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	if r.t.m.CheckoutConflicts > 0 {
		r.t.m.CheckoutConflicts--
		return fmt.Errorf("%w: injected", store.ErrConcurrencyConflict)
	}
	return nil
}

func (r mockCheckouts) Get(_ context.Context, id string) (*checkout.CheckoutState, error) {
	s, _, ok := r.current(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkout.ErrSagaNotFound, id)
	}
	c := copyCheckout(s)
	return &c, nil
}

func (r mockCheckouts) Create(_ context.Context, s *checkout.CheckoutState) error {
	if err := r.injectedConflict(); err != nil {
		return err
	}
	if _, _, ok := r.current(s.CorrelationID); ok {
		return fmt.Errorf("%w: checkout %s already exists", store.ErrConcurrencyConflict, s.CorrelationID)
	}
	s.Version = 1
	r.t.checkouts[s.CorrelationID] = staged[checkout.CheckoutState]{base: 0, value: copyCheckout(*s)}
	return nil
}

func (r mockCheckouts) ListAwaitingPayment(_ context.Context, before time.Time, limit int) ([]string, error) {
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	var stalled []checkout.CheckoutState
	for _, s := range r.t.m.checkouts {
		if s.CurrentState != checkout.StateStockReserved || !s.UpdatedAt.Before(before) {
			continue
		}
		o, ok := r.t.m.orders[s.CorrelationID]
		if ok && (o.Status == order.StatusSubmitted || o.Status == order.StatusStockReserved) {
			stalled = append(stalled, s)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].UpdatedAt.Before(stalled[j].UpdatedAt) })
	if len(stalled) > limit {
		stalled = stalled[:limit]
	}
	ids := make([]string, 0, len(stalled))
	for _, s := range stalled {
		ids = append(ids, s.CorrelationID)
	}
	return ids, nil
}

func (r mockCheckouts) Update(_ context.Context, s *checkout.CheckoutState) error {
	if err := r.injectedConflict(); err != nil {
		return err
	}
	cur, base, ok := r.current(s.CorrelationID)
	if !ok {
		return fmt.Errorf("%w: %s", checkout.ErrSagaNotFound, s.CorrelationID)
	}
	if cur.Version != s.Version {
		return fmt.Errorf("%w: checkout %s", store.ErrConcurrencyConflict, s.CorrelationID)
	}
	s.Version++
	r.t.checkouts[s.CorrelationID] = staged[checkout.CheckoutState]{base: base, value: copyCheckout(*s)}
	return nil
}
