package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func newTestTransactionService() (*Service, *mocks.MockEventStore, *clock.Manual) {
	eventStore := mocks.NewMockEventStore()
	clk := clock.NewManual(testStart)
	service := NewService(eventStore, WithClock(clk))
	return service, eventStore, clk
}

func validDraft() Draft {
	return Draft{
		ListingID: "listing-1",
		TierID:    "ga",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		UnitPrice: decimal.NewFromInt(500),
		Quantity:  2,
		Rates:     commission.DefaultRates(),
	}
}

// ============================================
// State Machine Tests
// ============================================

func TestTransaction_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusSettled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRefunded, false},
		{StatusSettled, StatusRefunded, true},
		{StatusSettled, StatusFailed, false},
		{StatusSettled, StatusSettled, false},
		{StatusFailed, StatusSettled, false},
		{StatusRefunded, StatusSettled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			tx := &Transaction{Status: tt.from}
			assert.Equal(t, tt.want, tx.CanTransitionTo(tt.to))
		})
	}
}

func TestTransaction_PlanSettle(t *testing.T) {
	tx := &Transaction{ID: "tx-1", Status: StatusPending, Version: 1}

	pending, err := tx.PlanSettle("TKT-abc", testStart)

	require.NoError(t, err)
	assert.Equal(t, EventTransactionSettled, pending.EventType)
	assert.Equal(t, 1, pending.ExpectedVersion)
	assert.Equal(t, "TKT-abc", pending.Data.(TransactionSettled).TicketCode)
}

func TestTransaction_PlanOnFinalized(t *testing.T) {
	for _, status := range []Status{StatusSettled, StatusFailed, StatusRefunded} {
		t.Run(string(status), func(t *testing.T) {
			tx := &Transaction{ID: "tx-1", Status: status}

			_, err := tx.PlanSettle("TKT-x", testStart)
			assert.ErrorIs(t, err, ErrAlreadyFinalized)

			_, err = tx.PlanFail(ReasonPaymentFailed, testStart)
			assert.ErrorIs(t, err, ErrAlreadyFinalized)
		})
	}
}

func TestTransaction_PlanRefund(t *testing.T) {
	_, err := (&Transaction{Status: StatusPending}).PlanRefund("r", testStart)
	assert.ErrorIs(t, err, ErrNotSettled)

	_, err = (&Transaction{Status: StatusRefunded}).PlanRefund("r", testStart)
	assert.ErrorIs(t, err, ErrNotSettled)

	pending, err := (&Transaction{ID: "tx-1", Status: StatusSettled, Version: 2}).PlanRefund("duplicate", testStart)
	require.NoError(t, err)
	assert.Equal(t, EventTransactionRefunded, pending.EventType)
	assert.Equal(t, 2, pending.ExpectedVersion)
}

func TestTransaction_IsExpired(t *testing.T) {
	tx := &Transaction{ExpiresAt: testStart}

	assert.False(t, tx.IsExpired(testStart))
	assert.True(t, tx.IsExpired(testStart.Add(time.Nanosecond)))
}

// ============================================
// Initiate Tests
// ============================================

func TestService_Initiate(t *testing.T) {
	service, eventStore, _ := newTestTransactionService()

	tx, err := service.Initiate(context.Background(), validDraft())

	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, testStart.Add(DefaultPaymentWindow), tx.ExpiresAt)
	// 500 x 2 at 5%/5%
	assert.Equal(t, "1000.00", tx.Breakdown.BasePrice.StringFixed(2))
	assert.Equal(t, "1050.00", tx.Breakdown.BuyerPays.StringFixed(2))
	assert.Equal(t, "950.00", tx.Breakdown.SellerReceives.StringFixed(2))
	assert.Equal(t, "100.00", tx.Breakdown.TotalCommission.StringFixed(2))
	require.Len(t, eventStore.CommitCalls, 1)
	assert.Equal(t, EventTransactionInitiated, eventStore.CommitCalls[0][0].EventType)
}

func TestService_Initiate_ReturnsCommittedState(t *testing.T) {
	eventStore := store.NewEventStore()
	service := NewService(eventStore, WithClock(clock.NewManual(testStart)))
	ctx := context.Background()

	tx, err := service.Initiate(ctx, validDraft())
	require.NoError(t, err)

	require.NotEmpty(t, tx.ID)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, "listing-1", tx.ListingID)
	assert.Equal(t, "1050.00", tx.Breakdown.BuyerPays.StringFixed(2))
	assert.Equal(t, 1, tx.Version)

	stored, err := eventStore.GetEvents(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, EventTransactionInitiated, stored[0].EventType)
}

func TestService_Initiate_ZeroRates(t *testing.T) {
	service, _, _ := newTestTransactionService()
	d := validDraft()
	d.Rates = commission.Rates{Seller: decimal.Zero, Buyer: decimal.Zero}

	tx, err := service.Initiate(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, tx.Breakdown.TotalCommission.IsZero())
	assert.True(t, tx.Breakdown.BuyerPays.Equal(tx.Breakdown.SellerReceives))
}

func TestService_Initiate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Draft)
		want   error
	}{
		{"zero quantity", func(d *Draft) { d.Quantity = 0 }, ErrInvalidQuantity},
		{"missing buyer", func(d *Draft) { d.BuyerID = "" }, ErrMissingBuyer},
		{"self purchase", func(d *Draft) { d.BuyerID = d.SellerID }, ErrSelfPurchase},
		{"rate above one", func(d *Draft) { d.Rates.Buyer = decimal.RequireFromString("1.5") }, commission.ErrInvalidRate},
		{"zero price", func(d *Draft) { d.UnitPrice = decimal.Zero }, commission.ErrInvalidBasePrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, eventStore, _ := newTestTransactionService()
			d := validDraft()
			tt.mutate(&d)

			_, err := service.Initiate(context.Background(), d)

			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, eventStore.CommitCalls)
		})
	}
}

func TestService_Initiate_CustomWindow(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore, WithClock(clock.NewManual(testStart)), WithPaymentWindow(5*time.Minute))

	tx, err := service.Initiate(context.Background(), validDraft())

	require.NoError(t, err)
	assert.Equal(t, testStart.Add(5*time.Minute), tx.ExpiresAt)
}

// ============================================
// Get Tests
// ============================================

func TestService_Get(t *testing.T) {
	service, _, _ := newTestTransactionService()
	ctx := context.Background()

	created, err := service.Initiate(ctx, validDraft())
	require.NoError(t, err)

	loaded, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, created.Breakdown.BuyerPays.String(), loaded.Breakdown.BuyerPays.String())
	assert.Equal(t, 1, loaded.Version)

	_, err = service.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTicketCode(t *testing.T) {
	code, err := NewTicketCode()
	require.NoError(t, err)

	assert.True(t, ValidTicketCode(code))
	assert.False(t, ValidTicketCode("TKT-"))
	assert.False(t, ValidTicketCode("ABC-123"))
	assert.False(t, ValidTicketCode("TKT-0OIl"), "not in the base58 alphabet")

	other, err := NewTicketCode()
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}
