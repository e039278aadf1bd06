package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ticket-ledger/internal/readmodel"
)

// PostgresReadStore implements ReadStoreInterface with one JSONB table per
// collection. A few fields are copied into columns for lookups.
type PostgresReadStore struct {
	db *sql.DB
}

// NewPostgresReadStore creates a new PostgreSQL-based read store
func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

func tableFor(collection string) (string, error) {
	switch collection {
	case readmodel.CollectionListings:
		return "read_listings", nil
	case readmodel.CollectionTransactions:
		return "read_transactions", nil
	case readmodel.CollectionCommissionStats:
		return "read_commission_stats", nil
	}
	return "", fmt.Errorf("unknown read model collection %q", collection)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Set stores a read model
func (rs *PostgresReadStore) Set(ctx context.Context, collection, id string, data any) error {
	return rs.upsert(ctx, rs.db, collection, id, data)
}

func (rs *PostgresReadStore) upsert(ctx context.Context, db execer, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	switch m := data.(type) {
	case *readmodel.ListingReadModel:
		_, err = db.ExecContext(ctx, `
			INSERT INTO read_listings (id, seller_id, data, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET
				seller_id = EXCLUDED.seller_id,
				data = EXCLUDED.data,
				updated_at = EXCLUDED.updated_at
		`, id, m.SellerID, raw)
	case *readmodel.TransactionReadModel:
		_, err = db.ExecContext(ctx, `
			INSERT INTO read_transactions (id, buyer_id, seller_id, status, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				data = EXCLUDED.data
		`, id, m.BuyerID, m.SellerID, m.Status, raw, m.CreatedAt)
	case *readmodel.CommissionStatsReadModel:
		_, err = db.ExecContext(ctx, `
			INSERT INTO read_commission_stats (id, data, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (id) DO UPDATE SET
				data = EXCLUDED.data,
				updated_at = EXCLUDED.updated_at
		`, id, raw)
	default:
		return fmt.Errorf("unsupported read model %T for %s", data, collection)
	}
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get retrieves a read model by id
func (rs *PostgresReadStore) Get(ctx context.Context, collection, id string) (any, bool, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, false, err
	}

	var raw []byte
	err = rs.db.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	m, err := readmodel.Decode(collection, raw)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// GetAll retrieves all items in a collection
func (rs *PostgresReadStore) GetAll(ctx context.Context, collection string) ([]any, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	return rs.queryDocs(ctx, collection, "SELECT data FROM "+table+" ORDER BY id")
}

func (rs *PostgresReadStore) queryDocs(ctx context.Context, collection, query string, args ...any) ([]any, error) {
	rows, err := rs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var items []any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		m, err := readmodel.Decode(collection, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// Delete removes a read model
func (rs *PostgresReadStore) Delete(ctx context.Context, collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	if _, err := rs.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update reads the row FOR UPDATE, applies updateFn and writes it back in
// one transaction.
func (rs *PostgresReadStore) Update(ctx context.Context, collection, id string, updateFn func(current any) any) (bool, error) {
	table, err := tableFor(collection)
	if err != nil {
		return false, err
	}

	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = $1 FOR UPDATE", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock %s/%s: %w", collection, id, err)
	}

	current, err := readmodel.Decode(collection, raw)
	if err != nil {
		return false, err
	}
	if err := rs.upsert(ctx, tx, collection, id, updateFn(current)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (rs *PostgresReadStore) TransactionsByBuyer(ctx context.Context, buyerID string) ([]*readmodel.TransactionReadModel, error) {
	return rs.queryTransactions(ctx,
		"SELECT data FROM read_transactions WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
}

func (rs *PostgresReadStore) TransactionsBySeller(ctx context.Context, sellerID string) ([]*readmodel.TransactionReadModel, error) {
	return rs.queryTransactions(ctx,
		"SELECT data FROM read_transactions WHERE seller_id = $1 ORDER BY created_at DESC", sellerID)
}

func (rs *PostgresReadStore) queryTransactions(ctx context.Context, query string, args ...any) ([]*readmodel.TransactionReadModel, error) {
	items, err := rs.queryDocs(ctx, readmodel.CollectionTransactions, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*readmodel.TransactionReadModel, 0, len(items))
	for _, item := range items {
		out = append(out, item.(*readmodel.TransactionReadModel))
	}
	return out, nil
}

// ListingsBySeller orders by the approval time held in the document.
func (rs *PostgresReadStore) ListingsBySeller(ctx context.Context, sellerID string) ([]*readmodel.ListingReadModel, error) {
	items, err := rs.queryDocs(ctx, readmodel.CollectionListings,
		"SELECT data FROM read_listings WHERE seller_id = $1", sellerID)
	if err != nil {
		return nil, err
	}
	out := make([]*readmodel.ListingReadModel, 0, len(items))
	for _, item := range items {
		out = append(out, item.(*readmodel.ListingReadModel))
	}
	sortListingsNewestFirst(out)
	return out, nil
}
