package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCommissionAccrued  = "CommissionAccrued"
	EventCommissionReversed = "CommissionReversed"
)

type CommissionAccrued struct {
	TransactionID    string          `json:"transaction_id"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	AccruedAt        time.Time       `json:"accrued_at"`
}

type CommissionReversed struct {
	TransactionID    string          `json:"transaction_id"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	Reason           string          `json:"reason"`
	ReversedAt       time.Time       `json:"reversed_at"`
}
