package checkout

import (
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/contracts"
)

const (
	defaultPaymentFailureReason     = "Payment failed"
	defaultReservationFailureReason = "Stock reservation failed"
)

// Outcome is the result of applying one event.
//
// Next is nil when the event was ignored. Created is set when Next is a new
// instance that must be inserted rather than updated.
type Outcome struct {
	From     State
	To       State
	Next     *CheckoutState
	Commands []contracts.Message
	Created  bool
	Ignored  bool
}

func ignored(s State) (Outcome, error) {
	return Outcome{From: s, To: s, Ignored: true}, nil
}

// Transition applies msg to current and returns the next instance together
// with the commands to publish. current is nil when no instance exists for
// the correlation id. current is never modified.
//
// Table:
//
//	(none)        + CheckoutStarted           -> Submitted      [ReserveStockForOrder]
//	Submitted     + StockReservationCompleted -> StockReserved
//	Submitted     + StockReservationFailed    -> Failed         [OrderFailed]
//	StockReserved + PaymentCompleted          -> Confirmed      [ConfirmOrder DeductStock ClearCart]
//	StockReserved + PaymentFailed             -> Failed         [ReleaseStockReservations OrderFailed]
//
// Every other pair is ignored except a payment event while Submitted, which
// is ErrEventOutOfOrder, and any event other than CheckoutStarted without an
// instance, which is ErrSagaNotFound.
func Transition(current *CheckoutState, msg contracts.Message, now time.Time) (Outcome, error) {
	if !isSagaEvent(msg) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.MessageType())
	}

	if current == nil {
		started, ok := msg.(contracts.CheckoutStarted)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %s for %s", ErrSagaNotFound, msg.MessageType(), msg.CorrelationID())
		}
		return start(started, now)
	}

	from := current.CurrentState
	if from.IsFinal() {
		return ignored(from)
	}

	switch m := msg.(type) {
	case contracts.CheckoutStarted:
		return ignored(from)

	case contracts.StockReservationCompleted:
		if from != StateSubmitted {
			return ignored(from)
		}
		rs, err := contracts.DecodeReservations(m.ReservationIDsJSON)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		next := advance(current, StateStockReserved, now)
		next.Reservations = rs
		return Outcome{From: from, To: next.CurrentState, Next: next}, nil

	case contracts.StockReservationFailed:
		if from != StateSubmitted {
			return ignored(from)
		}
		reason := m.Reason
		if reason == "" {
			reason = defaultReservationFailureReason
		}
		next := fail(current, reason, now)
		return Outcome{
			From:     from,
			To:       next.CurrentState,
			Next:     next,
			Commands: []contracts.Message{contracts.OrderFailed{OrderID: next.OrderID, Reason: next.FailureReason}},
		}, nil

	case contracts.PaymentCompleted:
		if from == StateSubmitted {
			return Outcome{}, fmt.Errorf("%w: %s in %s", ErrEventOutOfOrder, msg.MessageType(), from)
		}
		reservations, err := contracts.EncodeReservations(current.Reservations)
		if err != nil {
			return Outcome{}, err
		}
		next := advance(current, StateConfirmed, now)
		next.CompletedAt = &now
		return Outcome{
			From: from,
			To:   next.CurrentState,
			Next: next,
			Commands: []contracts.Message{
				contracts.ConfirmOrder{OrderID: next.OrderID},
				contracts.DeductStock{OrderID: next.OrderID, ReservationIDsJSON: reservations},
				contracts.ClearCart{BuyerID: next.BuyerID, OrderID: next.OrderID},
			},
		}, nil

	case contracts.PaymentFailed:
		if from == StateSubmitted {
			return Outcome{}, fmt.Errorf("%w: %s in %s", ErrEventOutOfOrder, msg.MessageType(), from)
		}
		reservations, err := contracts.EncodeReservations(current.Reservations)
		if err != nil {
			return Outcome{}, err
		}
		reason := m.Reason
		if reason == "" {
			reason = defaultPaymentFailureReason
		}
		next := fail(current, reason, now)
		return Outcome{
			From: from,
			To:   next.CurrentState,
			Next: next,
			Commands: []contracts.Message{
				contracts.ReleaseStockReservations{OrderID: next.OrderID, ReservationIDsJSON: reservations},
				contracts.OrderFailed{OrderID: next.OrderID, Reason: next.FailureReason},
			},
		}, nil
	}

	return ignored(from)
}

func start(m contracts.CheckoutStarted, now time.Time) (Outcome, error) {
	if len(m.Items) == 0 {
		return Outcome{}, fmt.Errorf("%w: checkout %s has no items", ErrInvalidEvent, m.OrderID)
	}
	next := &CheckoutState{
		CorrelationID: m.OrderID,
		CurrentState:  StateSubmitted,
		OrderID:       m.OrderID,
		BuyerID:       m.BuyerID,
		BuyerEmail:    m.BuyerEmail,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	return Outcome{
		From:     StateNone,
		To:       StateSubmitted,
		Next:     next,
		Created:  true,
		Commands: []contracts.Message{contracts.ReserveStockForOrder{OrderID: m.OrderID, Items: m.Items}},
	}, nil
}

func advance(current *CheckoutState, to State, now time.Time) *CheckoutState {
	next := current.clone()
	next.CurrentState = to
	next.UpdatedAt = now
	return next
}

func fail(current *CheckoutState, reason string, now time.Time) *CheckoutState {
	next := advance(current, StateFailed, now)
	next.FailureReason = reason
	next.CompletedAt = &now
	return next
}

func isSagaEvent(msg contracts.Message) bool {
	switch msg.(type) {
	case contracts.CheckoutStarted,
		contracts.StockReservationCompleted,
		contracts.StockReservationFailed,
		contracts.PaymentCompleted,
		contracts.PaymentFailed:
		return true
	}
	return false
}
