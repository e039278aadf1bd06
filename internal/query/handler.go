package query

import (
	"context"

	"github.com/example/ticket-ledger/internal/domain/ledger"
	"github.com/example/ticket-ledger/internal/domain/listing"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/readmodel"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler answers reads. Inventory and the commission ledger come from the
// event streams; everything else comes from the projected read models.
type Handler struct {
	readStore      store.ReadStoreInterface
	listingSvc     *listing.Service
	transactionSvc *transaction.Service
	ledgerSvc      *ledger.Service
	logger         *logrus.Logger
}

func NewHandler(
	readStore store.ReadStoreInterface,
	listingSvc *listing.Service,
	transactionSvc *transaction.Service,
	ledgerSvc *ledger.Service,
	logger *logrus.Logger,
) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		readStore:      readStore,
		listingSvc:     listingSvc,
		transactionSvc: transactionSvc,
		ledgerSvc:      ledgerSvc,
		logger:         logger,
	}
}

// Listings
func (h *Handler) GetListing(ctx context.Context, id string) (*ListingReadModel, error) {
	data, ok, err := h.readStore.Get(ctx, readmodel.CollectionListings, id)
	if err != nil {
		h.logger.WithError(err).WithField("listing_id", id).Error("[Query] Error getting listing")
		return nil, err
	}
	if !ok {
		return nil, listing.ErrListingNotFound
	}
	return data.(*ListingReadModel), nil
}

// ListActiveListings returns listings still open for purchase.
func (h *Handler) ListActiveListings(ctx context.Context) ([]*ListingReadModel, error) {
	items, err := h.readStore.GetAll(ctx, readmodel.CollectionListings)
	if err != nil {
		h.logger.WithError(err).Error("[Query] Error listing listings")
		return nil, err
	}
	listings := make([]*ListingReadModel, 0, len(items))
	for _, item := range items {
		if l := item.(*ListingReadModel); l.IsActive {
			listings = append(listings, l)
		}
	}
	return listings, nil
}

// GetInventoryStatus reads the tier counters from the listing stream, so it
// never lags behind a settlement.
func (h *Handler) GetInventoryStatus(ctx context.Context, listingID string) ([]listing.TierStatus, error) {
	return h.listingSvc.InventoryStatus(ctx, listingID)
}

// Transactions
func (h *Handler) GetTransaction(ctx context.Context, id string) (*TransactionReadModel, error) {
	data, ok, err := h.readStore.Get(ctx, readmodel.CollectionTransactions, id)
	if err != nil {
		h.logger.WithError(err).WithField("transaction_id", id).Error("[Query] Error getting transaction")
		return nil, err
	}
	if ok {
		return data.(*TransactionReadModel), nil
	}

	// Not projected yet: answer from the stream.
	tx, err := h.transactionSvc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromTransaction(tx), nil
}

func (h *Handler) ListTransactionsByBuyer(ctx context.Context, buyerID string) ([]*TransactionReadModel, error) {
	txs, err := h.readStore.TransactionsByBuyer(ctx, buyerID)
	if err != nil {
		h.logger.WithError(err).WithField("buyer_id", buyerID).Error("[Query] Error listing transactions")
		return nil, err
	}
	if txs == nil {
		txs = []*TransactionReadModel{}
	}
	return txs, nil
}

func (h *Handler) ListTransactionsBySeller(ctx context.Context, sellerID string) ([]*TransactionReadModel, error) {
	txs, err := h.readStore.TransactionsBySeller(ctx, sellerID)
	if err != nil {
		h.logger.WithError(err).WithField("seller_id", sellerID).Error("[Query] Error listing sales")
		return nil, err
	}
	if txs == nil {
		txs = []*TransactionReadModel{}
	}
	return txs, nil
}

// ListListingsBySeller includes sold out and deactivated listings.
func (h *Handler) ListListingsBySeller(ctx context.Context, sellerID string) ([]*ListingReadModel, error) {
	listings, err := h.readStore.ListingsBySeller(ctx, sellerID)
	if err != nil {
		h.logger.WithError(err).WithField("seller_id", sellerID).Error("[Query] Error listing seller listings")
		return nil, err
	}
	if listings == nil {
		listings = []*ListingReadModel{}
	}
	return listings, nil
}

// UserSummary collects what a user has listed, bought and sold.
func (h *Handler) UserSummary(ctx context.Context, userID string) (*UserSummary, error) {
	listed, err := h.ListListingsBySeller(ctx, userID)
	if err != nil {
		return nil, err
	}
	purchased, err := h.ListTransactionsByBuyer(ctx, userID)
	if err != nil {
		return nil, err
	}
	sold, err := h.ListTransactionsBySeller(ctx, userID)
	if err != nil {
		return nil, err
	}

	earnings := decimal.Zero
	for _, tx := range sold {
		if tx.Status == string(transaction.StatusSettled) {
			earnings = earnings.Add(tx.Breakdown.SellerReceives)
		}
	}
	return &UserSummary{
		Listed:         listed,
		Purchased:      purchased,
		Sold:           sold,
		SellerEarnings: earnings,
	}, nil
}

// Commissions
func (h *Handler) CommissionStats(ctx context.Context) (*CommissionStats, error) {
	data, ok, err := h.readStore.Get(ctx, readmodel.CollectionCommissionStats, readmodel.CommissionStatsID)
	if err != nil {
		h.logger.WithError(err).Error("[Query] Error getting commission stats")
		return nil, err
	}
	stats := readmodel.NewCommissionStats()
	if ok {
		stats = data.(*readmodel.CommissionStatsReadModel)
	}

	out := &CommissionStats{
		ByStatus:          make(map[string]StatusSummary, len(stats.ByStatus)),
		TotalTransactions: stats.TotalTransactions,
	}
	for status, s := range stats.ByStatus {
		out.ByStatus[status] = StatusSummary{
			Count:             s.Count,
			TotalCommission:   s.TotalCommission,
			SellerCommission:  s.SellerCommission,
			BuyerCommission:   s.BuyerCommission,
			AverageCommission: s.AverageCommission(),
		}
	}
	earned := stats.Earned()
	out.TotalEarned = earned.TotalCommission
	out.AverageCommission = earned.AverageCommission()
	return out, nil
}

// GetCommissionLedger returns the ledger totals, with entries when asked.
func (h *Handler) GetCommissionLedger(ctx context.Context, withEntries bool) (*CommissionLedger, error) {
	l, err := h.ledgerSvc.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := &CommissionLedger{
		TotalCommission:  l.TotalCommission,
		SellerCommission: l.SellerCommission,
		BuyerCommission:  l.BuyerCommission,
		Accruals:         l.Accruals,
		Reversals:        l.Reversals,
	}
	if withEntries {
		if out.Entries, err = h.ledgerSvc.Entries(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromTransaction renders an aggregate in read-model form.
func FromTransaction(tx *transaction.Transaction) *TransactionReadModel {
	return &TransactionReadModel{
		ID:            tx.ID,
		ListingID:     tx.ListingID,
		TierID:        tx.TierID,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Quantity:      tx.Quantity,
		UnitPrice:     tx.UnitPrice,
		Breakdown:     tx.Breakdown,
		Status:        string(tx.Status),
		FailureReason: string(tx.FailureReason),
		RefundReason:  tx.RefundReason,
		TicketCode:    tx.TicketCode,
		CreatedAt:     tx.CreatedAt,
		ExpiresAt:     tx.ExpiresAt,
		SettledAt:     tx.SettledAt,
		FailedAt:      tx.FailedAt,
		RefundedAt:    tx.RefundedAt,
		Version:       tx.Version,
	}
}
