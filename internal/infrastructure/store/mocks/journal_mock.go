package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ec-checkout-saga/internal/domain/checkout"
)

// MockJournal is an in-memory checkout.Journal that keeps the first entry
// recorded for each (saga, seq).
type MockJournal struct {
	mu      sync.Mutex
	entries map[string]map[int64]checkout.JournalEntry

	// For tracking calls in tests
	RecordCalls int
	RecordErr   error
}

// NewMockJournal creates a new MockJournal
func NewMockJournal() *MockJournal {
	return &MockJournal{entries: make(map[string]map[int64]checkout.JournalEntry)}
}

func (j *MockJournal) Record(_ context.Context, e checkout.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.RecordCalls++
	if j.RecordErr != nil {
		return j.RecordErr
	}
	if j.entries[e.SagaID] == nil {
		j.entries[e.SagaID] = make(map[int64]checkout.JournalEntry)
	}
	if _, ok := j.entries[e.SagaID][e.Seq]; !ok {
		j.entries[e.SagaID][e.Seq] = e
	}
	return nil
}

func (j *MockJournal) History(_ context.Context, sagaID string) ([]checkout.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]checkout.JournalEntry, 0, len(j.entries[sagaID]))
	for _, e := range j.entries[sagaID] {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}
