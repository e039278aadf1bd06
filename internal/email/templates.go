package email

import (
	"html/template"
	"strings"
	"time"

	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/shopspring/decimal"
)

// Receipt is what the operator sees for one settled purchase.
type Receipt struct {
	TransactionID string
	ListingID     string
	ListingTitle  string
	TierID        string
	Quantity      int
	BuyerID       string
	TicketCode    string
	Currency      string
	Breakdown     commission.Breakdown
	SettledAt     time.Time
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC1123) },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px; border-bottom: 2px solid #667eea; padding-bottom: 10px;">Purchase settled</h1>

	<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
		<tr><td style="padding: 6px; color: #666;">Transaction</td><td style="padding: 6px; font-family: monospace;">{{.TransactionID}}</td></tr>
		<tr><td style="padding: 6px; color: #666;">Listing</td><td style="padding: 6px;">{{if .ListingTitle}}{{.ListingTitle}}{{else}}{{.ListingID}}{{end}}</td></tr>
		{{if .TierID}}<tr><td style="padding: 6px; color: #666;">Tier</td><td style="padding: 6px;">{{.TierID}}{{if .Quantity}} x{{.Quantity}}{{end}}</td></tr>{{end}}
		<tr><td style="padding: 6px; color: #666;">Buyer</td><td style="padding: 6px;">{{.BuyerID}}</td></tr>
		<tr><td style="padding: 6px; color: #666;">Ticket code</td><td style="padding: 6px; font-family: monospace; font-weight: bold;">{{.TicketCode}}</td></tr>
		<tr><td style="padding: 6px; color: #666;">Settled</td><td style="padding: 6px;">{{stamp .SettledAt}}</td></tr>
	</table>

	<table style="width: 100%; border-collapse: collapse; background: #f8f9fa;">
		<tr><td style="padding: 8px;">Base price</td><td style="padding: 8px; text-align: right;">{{money .Breakdown.BasePrice}} {{.Currency}}</td></tr>
		<tr><td style="padding: 8px;">Buyer commission</td><td style="padding: 8px; text-align: right;">{{money .Breakdown.BuyerCommission}} {{.Currency}}</td></tr>
		<tr><td style="padding: 8px;">Seller commission</td><td style="padding: 8px; text-align: right;">{{money .Breakdown.SellerCommission}} {{.Currency}}</td></tr>
		<tr><td style="padding: 8px; font-weight: bold;">Buyer paid</td><td style="padding: 8px; text-align: right; font-weight: bold;">{{money .Breakdown.BuyerPays}} {{.Currency}}</td></tr>
		<tr><td style="padding: 8px;">Seller receives</td><td style="padding: 8px; text-align: right;">{{money .Breakdown.SellerReceives}} {{.Currency}}</td></tr>
		<tr><td style="padding: 8px; font-weight: bold;">Platform commission</td><td style="padding: 8px; text-align: right; font-weight: bold; color: #667eea;">{{money .Breakdown.TotalCommission}} {{.Currency}}</td></tr>
	</table>

	<p style="font-size: 12px; color: #999;">This message was sent automatically by the ticket ledger.</p>
</body>
</html>`))

// BuildSettlementReceiptBody renders the HTML receipt. Every field is escaped.
func BuildSettlementReceiptBody(r Receipt) (string, error) {
	var b strings.Builder
	if err := receiptTemplate.Execute(&b, r); err != nil {
		return "", err
	}
	return b.String(), nil
}
