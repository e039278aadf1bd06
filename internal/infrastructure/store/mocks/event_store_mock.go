package mocks

import (
	"context"
	"sync"

	"github.com/example/ticket-ledger/internal/infrastructure/store"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing.
// Commits go to an in-memory store unless CommitErr or CommitCallback is set.
type MockEventStore struct {
	mu    sync.Mutex
	inner *store.EventStore

	// For tracking calls in tests
	CommitCalls    [][]store.PendingEvent
	CommitErr      error
	CommitCallback func(ctx context.Context, pending ...store.PendingEvent) ([]store.Event, error)
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{inner: store.NewEventStore()}
}

// Commit records the call and then fails, delegates to the callback, or
// appends to the in-memory store.
func (m *MockEventStore) Commit(ctx context.Context, pending ...store.PendingEvent) ([]store.Event, error) {
	m.mu.Lock()
	m.CommitCalls = append(m.CommitCalls, append([]store.PendingEvent(nil), pending...))
	callback, commitErr := m.CommitCallback, m.CommitErr
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, pending...)
	}
	if commitErr != nil {
		return nil, commitErr
	}
	return m.inner.Commit(ctx, pending...)
}

// Seed appends events without recording a call.
func (m *MockEventStore) Seed(ctx context.Context, pending ...store.PendingEvent) error {
	_, err := m.inner.Commit(ctx, pending...)
	return err
}

// Inner exposes the backing store, e.g. for a callback that delegates.
func (m *MockEventStore) Inner() *store.EventStore {
	return m.inner
}

// CommitCount returns how many commits were attempted.
func (m *MockEventStore) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CommitCalls)
}

func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	return m.inner.GetEvents(ctx, aggregateID)
}

func (m *MockEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]store.Event, error) {
	return m.inner.GetEventsFromVersion(ctx, aggregateID, fromVersion)
}

func (m *MockEventStore) GetAllEvents(ctx context.Context) ([]store.Event, error) {
	return m.inner.GetAllEvents(ctx)
}

func (m *MockEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	return m.inner.GetSnapshot(ctx, aggregateID)
}

func (m *MockEventStore) SaveSnapshot(ctx context.Context, snapshot *store.Snapshot) error {
	return m.inner.SaveSnapshot(ctx, snapshot)
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner = store.NewEventStore()
	m.CommitCalls = nil
	m.CommitErr = nil
	m.CommitCallback = nil
}
