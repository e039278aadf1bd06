// Package commission computes the platform fee split for a ticket sale.
package commission

import (
	"fmt"

	"github.com/example/ticket-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the currency precision every derived amount is rounded to.
const MinorUnitPlaces = 2

var (
	ErrInvalidBasePrice = fmt.Errorf("%w: base price must be positive", domain.ErrInvalidInput)
	ErrInvalidRate      = fmt.Errorf("%w: commission rate must be within [0, 1]", domain.ErrInvalidInput)
)

var one = decimal.NewFromInt(1)

// Rates holds the fraction of the base price charged to each side.
type Rates struct {
	Seller decimal.Decimal `json:"seller_rate" yaml:"seller_rate"`
	Buyer  decimal.Decimal `json:"buyer_rate" yaml:"buyer_rate"`
}

// DefaultRates charges 5% to the seller and 5% to the buyer.
func DefaultRates() Rates {
	return Rates{
		Seller: decimal.RequireFromString("0.05"),
		Buyer:  decimal.RequireFromString("0.05"),
	}
}

// Validate checks both rates are within [0, 1].
func (r Rates) Validate() error {
	if !validRate(r.Seller) {
		return fmt.Errorf("%w: seller rate %s", ErrInvalidRate, r.Seller)
	}
	if !validRate(r.Buyer) {
		return fmt.Errorf("%w: buyer rate %s", ErrInvalidRate, r.Buyer)
	}
	return nil
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(one)
}

// Breakdown is the fee split for a single base amount.
type Breakdown struct {
	BasePrice        decimal.Decimal `json:"base_price"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	SellerReceives   decimal.Decimal `json:"seller_receives"`
	BuyerPays        decimal.Decimal `json:"buyer_pays"`
}

// ComputeBreakdown splits basePrice into seller and buyer commissions.
//
// Every derived amount is rounded half-up to two places on its own; the
// amounts are not reconciled afterwards, so BuyerPays-SellerReceives can
// differ from TotalCommission by one minor unit for some inputs.
func ComputeBreakdown(basePrice, sellerRate, buyerRate decimal.Decimal) (Breakdown, error) {
	if !basePrice.IsPositive() {
		return Breakdown{}, fmt.Errorf("%w: got %s", ErrInvalidBasePrice, basePrice)
	}
	rates := Rates{Seller: sellerRate, Buyer: buyerRate}
	if err := rates.Validate(); err != nil {
		return Breakdown{}, err
	}

	sellerCommission := round2(basePrice.Mul(sellerRate))
	buyerCommission := round2(basePrice.Mul(buyerRate))

	return Breakdown{
		BasePrice:        basePrice,
		SellerCommission: sellerCommission,
		BuyerCommission:  buyerCommission,
		TotalCommission:  sellerCommission.Add(buyerCommission),
		SellerReceives:   round2(basePrice.Sub(sellerCommission)),
		BuyerPays:        round2(basePrice.Add(buyerCommission)),
	}, nil
}

// Compute is ComputeBreakdown with the rates taken from r.
func (r Rates) Compute(basePrice decimal.Decimal) (Breakdown, error) {
	return ComputeBreakdown(basePrice, r.Seller, r.Buyer)
}

// round2 rounds half away from zero, which is half-up for the positive
// amounts handled here.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}
