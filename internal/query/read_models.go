package query

import (
	"github.com/example/ticket-ledger/internal/domain/ledger"
	"github.com/example/ticket-ledger/internal/readmodel"
	"github.com/shopspring/decimal"
)

type ListingReadModel = readmodel.ListingReadModel
type TransactionReadModel = readmodel.TransactionReadModel

// UserSummary is one user's activity on both sides of the marketplace.
// SellerEarnings counts settled sales only.
type UserSummary struct {
	Listed         []*ListingReadModel     `json:"listed"`
	Purchased      []*TransactionReadModel `json:"purchased"`
	Sold           []*TransactionReadModel `json:"sold"`
	SellerEarnings decimal.Decimal         `json:"seller_earnings"`
}

// StatusSummary is one status row of the commission dashboard.
type StatusSummary struct {
	Count             int             `json:"count"`
	TotalCommission   decimal.Decimal `json:"total_commission"`
	SellerCommission  decimal.Decimal `json:"seller_commission"`
	BuyerCommission   decimal.Decimal `json:"buyer_commission"`
	AverageCommission decimal.Decimal `json:"average_commission"`
}

// CommissionStats is the admin dashboard summary.
type CommissionStats struct {
	ByStatus          map[string]StatusSummary `json:"by_status"`
	TotalTransactions int                      `json:"total_transactions"`
	TotalEarned       decimal.Decimal          `json:"total_earned"`
	AverageCommission decimal.Decimal          `json:"average_commission"`
}

// CommissionLedger is the authoritative running total with its entries.
type CommissionLedger struct {
	TotalCommission  decimal.Decimal `json:"total_commission"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
	Accruals         int             `json:"accruals"`
	Reversals        int             `json:"reversals"`
	Entries          []ledger.Entry  `json:"entries,omitempty"`
}
