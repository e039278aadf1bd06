package transaction

import (
	"time"

	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/shopspring/decimal"
)

const (
	EventTransactionInitiated = "TransactionInitiated"
	EventTransactionSettled   = "TransactionSettled"
	EventTransactionFailed    = "TransactionFailed"
	EventTransactionRefunded  = "TransactionRefunded"
)

type TransactionInitiated struct {
	TransactionID string               `json:"transaction_id"`
	ListingID     string               `json:"listing_id"`
	TierID        string               `json:"tier_id"`
	BuyerID       string               `json:"buyer_id"`
	SellerID      string               `json:"seller_id"`
	UnitPrice     decimal.Decimal      `json:"unit_price"`
	Quantity      int                  `json:"quantity"`
	Rates         commission.Rates     `json:"rates"`
	Breakdown     commission.Breakdown `json:"breakdown"`
	InitiatedAt   time.Time            `json:"initiated_at"`
	ExpiresAt     time.Time            `json:"expires_at"`
}

type TransactionSettled struct {
	TransactionID string               `json:"transaction_id"`
	ListingID     string               `json:"listing_id"`
	BuyerID       string               `json:"buyer_id"`
	Breakdown     commission.Breakdown `json:"breakdown"`
	TicketCode    string               `json:"ticket_code"`
	SettledAt     time.Time            `json:"settled_at"`
}

type TransactionFailed struct {
	TransactionID string        `json:"transaction_id"`
	Reason        FailureReason `json:"reason"`
	FailedAt      time.Time     `json:"failed_at"`
}

type TransactionRefunded struct {
	TransactionID string    `json:"transaction_id"`
	Reason        string    `json:"reason"`
	RefundedAt    time.Time `json:"refunded_at"`
}
