package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ticket-ledger/internal/readmodel"
)

// MockReadStore is a mock implementation of ReadStoreInterface for testing.
// It stores the pointers it is given.
type MockReadStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any // collection -> id -> data

	// For tracking calls in tests
	SetCalls    []SetCall
	UpdateCalls []UpdateCall
	SetErr      error
	GetErr      error
}

// SetCall records parameters passed to Set
type SetCall struct {
	Collection string
	ID         string
	Data       any
}

// UpdateCall records parameters passed to Update
type UpdateCall struct {
	Collection string
	ID         string
}

// NewMockReadStore creates a new MockReadStore
func NewMockReadStore() *MockReadStore {
	return &MockReadStore{
		data: make(map[string]map[string]any),
	}
}

func (m *MockReadStore) Set(ctx context.Context, collection, id string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCalls = append(m.SetCalls, SetCall{Collection: collection, ID: id, Data: data})
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]any)
	}
	m.data[collection][id] = data
	return nil
}

func (m *MockReadStore) Get(ctx context.Context, collection, id string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, false, m.GetErr
	}
	data, ok := m.data[collection][id]
	return data, ok, nil
}

func (m *MockReadStore) GetAll(ctx context.Context, collection string) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	items := make([]any, 0, len(m.data[collection]))
	for _, item := range m.data[collection] {
		items = append(items, item)
	}
	return items, nil
}

func (m *MockReadStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[collection], id)
	return nil
}

func (m *MockReadStore) Update(ctx context.Context, collection, id string, updateFn func(current any) any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateCalls = append(m.UpdateCalls, UpdateCall{Collection: collection, ID: id})
	current, ok := m.data[collection][id]
	if !ok {
		return false, nil
	}
	m.data[collection][id] = updateFn(current)
	return true, nil
}

func (m *MockReadStore) TransactionsByBuyer(ctx context.Context, buyerID string) ([]*readmodel.TransactionReadModel, error) {
	return m.transactionsWhere(func(tx *readmodel.TransactionReadModel) bool { return tx.BuyerID == buyerID })
}

func (m *MockReadStore) TransactionsBySeller(ctx context.Context, sellerID string) ([]*readmodel.TransactionReadModel, error) {
	return m.transactionsWhere(func(tx *readmodel.TransactionReadModel) bool { return tx.SellerID == sellerID })
}

func (m *MockReadStore) transactionsWhere(match func(*readmodel.TransactionReadModel) bool) ([]*readmodel.TransactionReadModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []*readmodel.TransactionReadModel
	for _, item := range m.data[readmodel.CollectionTransactions] {
		if tx, ok := item.(*readmodel.TransactionReadModel); ok && match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockReadStore) ListingsBySeller(ctx context.Context, sellerID string) ([]*readmodel.ListingReadModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []*readmodel.ListingReadModel
	for _, item := range m.data[readmodel.CollectionListings] {
		if l, ok := item.(*readmodel.ListingReadModel); ok && l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SetData seeds a model without recording a call.
func (m *MockReadStore) SetData(collection, id string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]any)
	}
	m.data[collection][id] = data
}

// GetData returns a stored model directly.
func (m *MockReadStore) GetData(collection, id string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[collection][id]
	return data, ok
}
