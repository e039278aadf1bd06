// Package payment builds the descriptor a buyer uses to pay for a pending
// transaction. Settlement itself is confirmed out of band.
package payment

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "INR"

var ErrNoPayee = errors.New("payment payee VPA is not configured")

// Intent is the opaque payment descriptor returned with a new transaction.
type Intent struct {
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	URL       string          `json:"url"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// UPI issues UPI deep links payable to a single platform VPA.
type UPI struct {
	VPA          string
	MerchantName string
	Currency     string
}

func NewUPI(vpa, merchantName, currency string) (*UPI, error) {
	if strings.TrimSpace(vpa) == "" {
		return nil, ErrNoPayee
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &UPI{VPA: vpa, MerchantName: merchantName, Currency: currency}, nil
}

// NewIntent builds upi://pay?pa=..&pn=..&am=..&cu=..&tn=..&tr=<reference>.
// The amount always carries two decimals.
func (u *UPI) NewIntent(reference string, amount decimal.Decimal, note string, expiresAt time.Time) (Intent, error) {
	if reference == "" {
		return Intent{}, fmt.Errorf("payment reference is required")
	}
	if !amount.IsPositive() {
		return Intent{}, fmt.Errorf("payment amount must be positive, got %s", amount)
	}

	// Parameter order follows the UPI linking spec; url.Values would sort it.
	params := []string{
		"pa=" + url.QueryEscape(u.VPA),
		"pn=" + url.QueryEscape(u.MerchantName),
		"am=" + amount.StringFixed(2),
		"cu=" + url.QueryEscape(u.Currency),
		"tn=" + url.QueryEscape(note),
		"tr=" + url.QueryEscape(reference),
	}

	return Intent{
		Method:    "upi",
		Reference: reference,
		Amount:    amount,
		Currency:  u.Currency,
		URL:       "upi://pay?" + strings.Join(params, "&"),
		ExpiresAt: expiresAt,
	}, nil
}
