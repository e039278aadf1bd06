package command

import (
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/shopspring/decimal"
)

// Listing Commands
type TierInput struct {
	TierID   string          `json:"tier_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type ApproveListing struct {
	ListingID  string      `json:"listing_id"`
	SellerID   string      `json:"seller_id"`
	Title      string      `json:"title"`
	Tiers      []TierInput `json:"tiers"`
	ApprovedBy string      `json:"-"`
}

type DeactivateListing struct {
	ListingID string `json:"listing_id"`
	Reason    string `json:"reason"`
}

// Transaction Commands
type InitiateTransaction struct {
	ListingID string `json:"listing_id"`
	TierID    string `json:"tier_id"`
	BuyerID   string `json:"-"`
	// SellerID defaults to the listing's seller.
	SellerID string `json:"seller_id,omitempty"`
	Quantity int    `json:"quantity"`
	// Rates overrides the configured default commission rates.
	Rates *commission.Rates `json:"-"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type ConfirmTransaction struct {
	TransactionID string  `json:"transaction_id"`
	Outcome       Outcome `json:"outcome"`
}

type RefundTransaction struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}
