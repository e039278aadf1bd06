package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/example/ticket-ledger/internal/readmodel"
)

// MemoryReadStore is an in-memory read model store. Documents are kept
// encoded so callers never share a pointer with the store.
type MemoryReadStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // collection -> id -> document
}

func NewMemoryReadStore() *MemoryReadStore {
	return &MemoryReadStore{
		data: make(map[string]map[string][]byte),
	}
}

func (rs *MemoryReadStore) Set(ctx context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.data[collection] == nil {
		rs.data[collection] = make(map[string][]byte)
	}
	rs.data[collection][id] = raw
	return nil
}

func (rs *MemoryReadStore) Get(ctx context.Context, collection, id string) (any, bool, error) {
	rs.mu.RLock()
	raw, ok := rs.data[collection][id]
	rs.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	m, err := readmodel.Decode(collection, raw)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (rs *MemoryReadStore) GetAll(ctx context.Context, collection string) ([]any, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	items := make([]any, 0, len(rs.data[collection]))
	for _, raw := range rs.data[collection] {
		m, err := readmodel.Decode(collection, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

func (rs *MemoryReadStore) Delete(ctx context.Context, collection, id string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	delete(rs.data[collection], id)
	return nil
}

func (rs *MemoryReadStore) Update(ctx context.Context, collection, id string, updateFn func(current any) any) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	raw, ok := rs.data[collection][id]
	if !ok {
		return false, nil
	}
	current, err := readmodel.Decode(collection, raw)
	if err != nil {
		return false, err
	}
	updated, err := json.Marshal(updateFn(current))
	if err != nil {
		return false, err
	}
	rs.data[collection][id] = updated
	return true, nil
}

func (rs *MemoryReadStore) TransactionsByBuyer(ctx context.Context, buyerID string) ([]*readmodel.TransactionReadModel, error) {
	return rs.transactionsWhere(ctx, func(tx *readmodel.TransactionReadModel) bool {
		return tx.BuyerID == buyerID
	})
}

func (rs *MemoryReadStore) TransactionsBySeller(ctx context.Context, sellerID string) ([]*readmodel.TransactionReadModel, error) {
	return rs.transactionsWhere(ctx, func(tx *readmodel.TransactionReadModel) bool {
		return tx.SellerID == sellerID
	})
}

func (rs *MemoryReadStore) transactionsWhere(ctx context.Context, match func(*readmodel.TransactionReadModel) bool) ([]*readmodel.TransactionReadModel, error) {
	items, err := rs.GetAll(ctx, readmodel.CollectionTransactions)
	if err != nil {
		return nil, err
	}

	var out []*readmodel.TransactionReadModel
	for _, item := range items {
		if tx := item.(*readmodel.TransactionReadModel); match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (rs *MemoryReadStore) ListingsBySeller(ctx context.Context, sellerID string) ([]*readmodel.ListingReadModel, error) {
	items, err := rs.GetAll(ctx, readmodel.CollectionListings)
	if err != nil {
		return nil, err
	}

	var out []*readmodel.ListingReadModel
	for _, item := range items {
		if l := item.(*readmodel.ListingReadModel); l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	sortListingsNewestFirst(out)
	return out, nil
}

func sortListingsNewestFirst(listings []*readmodel.ListingReadModel) {
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return listings[i].CreatedAt.After(listings[j].CreatedAt)
		}
		return listings[i].ID < listings[j].ID
	})
}
