package readmodel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/shopspring/decimal"
)

// Collection names used by the projector and the read stores.
const (
	CollectionListings        = "listings"
	CollectionTransactions    = "transactions"
	CollectionCommissionStats = "commission_stats"
)

// CommissionStatsID is the id of the single commission stats document.
const CommissionStatsID = "global"

// TierReadModel is the inventory view of one ticket tier
type TierReadModel struct {
	TierID    string          `json:"tier_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Total     int             `json:"total"`
	Sold      int             `json:"sold"`
	Remaining int             `json:"remaining"`
	IsSoldOut bool            `json:"is_sold_out"`
}

// ListingReadModel is the read model for listings
type ListingReadModel struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"seller_id"`
	Title       string          `json:"title"`
	Tiers       []TierReadModel `json:"tiers"`
	IsActive    bool            `json:"is_active"`
	IsSoldOut   bool            `json:"is_sold_out"`
	Deactivated bool            `json:"deactivated"`
	ApprovedBy  string          `json:"approved_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	// Version is the last listing event applied.
	Version int `json:"version"`
}

// Recompute refreshes the derived per-tier and listing flags.
func (l *ListingReadModel) Recompute() {
	soldOut := len(l.Tiers) > 0
	for i := range l.Tiers {
		t := &l.Tiers[i]
		t.Remaining = t.Total - t.Sold
		t.IsSoldOut = t.Sold >= t.Total
		if !t.IsSoldOut {
			soldOut = false
		}
	}
	l.IsSoldOut = soldOut
	l.IsActive = !l.Deactivated && !soldOut
}

// TransactionReadModel is the read model for transactions
type TransactionReadModel struct {
	ID            string               `json:"id"`
	ListingID     string               `json:"listing_id"`
	TierID        string               `json:"tier_id"`
	BuyerID       string               `json:"buyer_id"`
	SellerID      string               `json:"seller_id"`
	Quantity      int                  `json:"quantity"`
	UnitPrice     decimal.Decimal      `json:"unit_price"`
	Breakdown     commission.Breakdown `json:"breakdown"`
	Status        string               `json:"status"`
	FailureReason string               `json:"failure_reason,omitempty"`
	RefundReason  string               `json:"refund_reason,omitempty"`
	TicketCode    string               `json:"ticket_code,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ExpiresAt     time.Time            `json:"expires_at"`
	SettledAt     *time.Time           `json:"settled_at,omitempty"`
	FailedAt      *time.Time           `json:"failed_at,omitempty"`
	RefundedAt    *time.Time           `json:"refunded_at,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Version       int                  `json:"version"`
}

// StatusStats aggregates the commissions of transactions in one status
type StatusStats struct {
	Count            int             `json:"count"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
}

// AverageCommission returns the mean total commission, zero when empty.
func (s StatusStats) AverageCommission() decimal.Decimal {
	if s.Count == 0 {
		return decimal.Zero
	}
	return s.TotalCommission.Div(decimal.NewFromInt(int64(s.Count))).Round(commission.MinorUnitPlaces)
}

func (s *StatusStats) add(b commission.Breakdown, sign int) {
	n := decimal.NewFromInt(int64(sign))
	s.Count += sign
	s.TotalCommission = s.TotalCommission.Add(b.TotalCommission.Mul(n))
	s.SellerCommission = s.SellerCommission.Add(b.SellerCommission.Mul(n))
	s.BuyerCommission = s.BuyerCommission.Add(b.BuyerCommission.Mul(n))
}

// CommissionStatsReadModel is the admin dashboard view of commissions
type CommissionStatsReadModel struct {
	ID                string                  `json:"id"`
	ByStatus          map[string]*StatusStats `json:"by_status"`
	TotalTransactions int                     `json:"total_transactions"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

func NewCommissionStats() *CommissionStatsReadModel {
	return &CommissionStatsReadModel{
		ID:       CommissionStatsID,
		ByStatus: make(map[string]*StatusStats),
	}
}

// Move shifts a transaction's commission from one status bucket to another.
// An empty from records a new transaction.
func (s *CommissionStatsReadModel) Move(from, to string, b commission.Breakdown) {
	if s.ByStatus == nil {
		s.ByStatus = make(map[string]*StatusStats)
	}
	if from == "" {
		s.TotalTransactions++
	} else {
		s.bucket(from).add(b, -1)
	}
	s.bucket(to).add(b, 1)
}

func (s *CommissionStatsReadModel) bucket(status string) *StatusStats {
	b, ok := s.ByStatus[status]
	if !ok {
		b = &StatusStats{}
		s.ByStatus[status] = b
	}
	return b
}

// Earned returns the commission of transactions that are currently settled.
func (s *CommissionStatsReadModel) Earned() StatusStats {
	if b, ok := s.ByStatus["settled"]; ok {
		return *b
	}
	return StatusStats{}
}

// New returns an empty model for a collection.
func New(collection string) (any, error) {
	switch collection {
	case CollectionListings:
		return &ListingReadModel{}, nil
	case CollectionTransactions:
		return &TransactionReadModel{}, nil
	case CollectionCommissionStats:
		return NewCommissionStats(), nil
	}
	return nil, fmt.Errorf("unknown read model collection %q", collection)
}

// Decode unmarshals a stored document into the collection's model.
func Decode(collection string, raw []byte) (any, error) {
	m, err := New(collection)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return m, nil
}
