package store

import (
	"context"

	"github.com/example/ticket-ledger/internal/readmodel"
)

// ReadStoreInterface defines the interface for read model storage
type ReadStoreInterface interface {
	// Set stores a read model
	Set(ctx context.Context, collection, id string, data any) error

	// Get retrieves a read model by id
	Get(ctx context.Context, collection, id string) (any, bool, error)

	// GetAll retrieves all items in a collection
	GetAll(ctx context.Context, collection string) ([]any, error)

	// Delete removes a read model
	Delete(ctx context.Context, collection, id string) error

	// Update modifies a read model using an update function.
	// It reports false when the model does not exist.
	Update(ctx context.Context, collection, id string, updateFn func(current any) any) (bool, error)

	// TransactionsByBuyer returns a buyer's transactions, newest first.
	TransactionsByBuyer(ctx context.Context, buyerID string) ([]*readmodel.TransactionReadModel, error)

	// TransactionsBySeller returns the sales of a seller's tickets, newest first.
	TransactionsBySeller(ctx context.Context, sellerID string) ([]*readmodel.TransactionReadModel, error)

	// ListingsBySeller returns a seller's listings, newest first.
	ListingsBySeller(ctx context.Context, sellerID string) ([]*readmodel.ListingReadModel, error)
}
