package aggregate

// Event is a business fact recorded by an aggregate during a state change.
// Repositories hand pending events to the outbox in the same transaction
// that persists the aggregate.
type Event interface {
	EventName() string
	AggregateID() string
}

// Root carries the optimistic concurrency token and the events recorded since
// the aggregate was loaded.
//
// Version is 0 for an aggregate that has never been persisted. Every
// successful write increments it by one; a write whose Version no longer
// matches the stored one is rejected as a concurrency conflict.
type Root struct {
	Version int `json:"version"`

	events []Event
}

// GetVersion returns the concurrency token.
func (r *Root) GetVersion() int { return r.Version }

// SetVersion replaces the concurrency token after a successful write.
func (r *Root) SetVersion(v int) { r.Version = v }

// IsNew reports whether the aggregate has never been persisted.
func (r *Root) IsNew() bool { return r.Version == 0 }

// Record appends a domain event.
func (r *Root) Record(e Event) {
	r.events = append(r.events, e)
}

// PendingEvents returns the events recorded since load.
func (r *Root) PendingEvents() []Event {
	return r.events
}

// ClearEvents drops pending events once they are handed to the outbox.
func (r *Root) ClearEvents() {
	r.events = nil
}
