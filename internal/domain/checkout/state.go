// Package checkout holds the checkout saga instance and the transition
// function that drives it. Nothing here performs I/O.
package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
)

type State string

const (
	StateNone          State = ""
	StateSubmitted     State = "Submitted"
	StateStockReserved State = "StockReserved"
	StateConfirmed     State = "Confirmed"
	StateFailed        State = "Failed"
)

// IsFinal reports whether no further event can change a saga in this state.
func (s State) IsFinal() bool {
	return s == StateConfirmed || s == StateFailed
}

var (
	ErrSagaNotFound      = errors.New("checkout saga not found")
	ErrEventOutOfOrder   = errors.New("event arrived before the saga can accept it")
	ErrUnexpectedMessage = errors.New("message is not a checkout saga event")
	ErrInvalidEvent      = errors.New("invalid checkout saga event")
)

// CheckoutState is the persisted saga instance. CorrelationID equals the
// order id.
type CheckoutState struct {
	CorrelationID string                  `json:"correlation_id"`
	CurrentState  State                   `json:"current_state"`
	OrderID       string                  `json:"order_id"`
	BuyerID       string                  `json:"buyer_id"`
	BuyerEmail    string                  `json:"buyer_email"`
	SubmittedAt   time.Time               `json:"submitted_at"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	Reservations  []contracts.Reservation `json:"reservations,omitempty"`
	Version       int                     `json:"version"`
	UpdatedAt     time.Time               `json:"updated_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

func (s *CheckoutState) clone() *CheckoutState {
	c := *s
	c.Reservations = append([]contracts.Reservation(nil), s.Reservations...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Repository persists saga instances. Create fails when the instance already
// exists and Update rejects a stale Version; both report a concurrency
// conflict in that case.
//
// ListAwaitingPayment returns, oldest first, the correlation ids of sagas
// that entered StockReserved before the given time and whose order is still
// unpaid.
type Repository interface {
	Get(ctx context.Context, correlationID string) (*CheckoutState, error)
	Create(ctx context.Context, s *CheckoutState) error
	Update(ctx context.Context, s *CheckoutState) error
	ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// JournalEntry is one applied transition in a saga's history. Seq is the
// saga version the transition produced.
type JournalEntry struct {
	SagaID     string    `json:"saga_id"`
	Seq        int64     `json:"seq"`
	MessageID  string    `json:"message_id"`
	Event      string    `json:"event"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Commands   []string  `json:"commands,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal is an append-only audit trail of saga transitions. Recording the
// same (SagaID, Seq) twice keeps the first entry.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
	History(ctx context.Context, sagaID string) ([]JournalEntry, error)
}
