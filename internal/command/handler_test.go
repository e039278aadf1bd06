package command

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/domain/ledger"
	"github.com/example/ticket-ledger/internal/domain/listing"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/infrastructure/store/mocks"
	"github.com/example/ticket-ledger/internal/payment"
	"github.com/example/ticket-ledger/internal/readmodel"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler    *Handler
	eventStore *mocks.MockEventStore
	readStore  *mocks.MockReadStore
	clock      *clock.Manual
	ledgerSvc  *ledger.Service
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	eventStore := mocks.NewMockEventStore()
	readStore := mocks.NewMockReadStore()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := quietLogger()

	listingSvc := listing.NewService(eventStore, listing.WithClock(clk), listing.WithLogger(logger))
	transactionSvc := transaction.NewService(eventStore, transaction.WithClock(clk), transaction.WithLogger(logger))
	ledgerSvc := ledger.NewService(eventStore, logger)
	upi, err := payment.NewUPI("tickets@upi", "Ticket Ledger", "INR")
	require.NoError(t, err)

	handler := NewHandler(eventStore, readStore, listingSvc, transactionSvc, ledgerSvc, upi, WithLogger(logger))
	return &testEnv{
		handler:    handler,
		eventStore: eventStore,
		readStore:  readStore,
		clock:      clk,
		ledgerSvc:  ledgerSvc,
	}
}

func (e *testEnv) approve(t *testing.T, id string, quantity int) *listing.Listing {
	t.Helper()
	l, err := e.handler.ApproveListing(context.Background(), ApproveListing{
		ListingID: id,
		SellerID:  "seller-1",
		Title:     "Concert",
		Tiers: []TierInput{
			{TierID: "GA", Name: "General", Price: decimal.NewFromInt(100), Quantity: quantity},
		},
		ApprovedBy: "admin-1",
	})
	require.NoError(t, err)
	return l
}

func (e *testEnv) initiate(t *testing.T, listingID string, quantity int) *transaction.Transaction {
	t.Helper()
	res, err := e.handler.InitiateTransaction(context.Background(), InitiateTransaction{
		ListingID: listingID,
		TierID:    "GA",
		BuyerID:   "buyer-1",
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return res.Transaction
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ============================================
// Initiate Tests
// ============================================

func TestHandler_InitiateTransaction_Success(t *testing.T) {
	env := newTestHandler(t)
	env.approve(t, "L1", 10)

	res, err := env.handler.InitiateTransaction(context.Background(), InitiateTransaction{
		ListingID: "L1",
		TierID:    "GA",
		BuyerID:   "buyer-1",
		Quantity:  2,
	})

	require.NoError(t, err)
	tx := res.Transaction
	assert.Equal(t, transaction.StatusPending, tx.Status)
	assert.Equal(t, "seller-1", tx.SellerID)
	assert.True(t, dec("200").Equal(tx.Breakdown.BasePrice))
	assert.True(t, dec("210").Equal(tx.Breakdown.BuyerPays))
	assert.True(t, dec("190").Equal(tx.Breakdown.SellerReceives))
	assert.Equal(t, env.clock.Now().Add(transaction.DefaultPaymentWindow), tx.ExpiresAt)

	assert.Equal(t, tx.ID, res.Payment.Reference)
	assert.True(t, dec("210").Equal(res.Payment.Amount))
	assert.Contains(t, res.Payment.URL, "am=210.00")

	// Inventory is untouched until payment
	status, err := env.handler.listingSvc.InventoryStatus(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, 0, status[0].Sold)
}

func TestHandler_InitiateTransaction_RateOverride(t *testing.T) {
	env := newTestHandler(t)
	env.approve(t, "L1", 10)

	res, err := env.handler.InitiateTransaction(context.Background(), InitiateTransaction{
		ListingID: "L1",
		TierID:    "GA",
		BuyerID:   "buyer-1",
		Quantity:  1,
		Rates:     &commission.Rates{Seller: dec("0.10"), Buyer: dec("0")},
	})

	require.NoError(t, err)
	assert.True(t, dec("10").Equal(res.Transaction.Breakdown.TotalCommission))
	assert.True(t, dec("100").Equal(res.Transaction.Breakdown.BuyerPays))
}

func TestHandler_InitiateTransaction_Rejections(t *testing.T) {
	env := newTestHandler(t)
	env.approve(t, "L1", 10)
	env.approve(t, "L2", 10)
	_, err := env.handler.DeactivateListing(context.Background(), DeactivateListing{ListingID: "L2", Reason: "cancelled"})
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  InitiateTransaction
		want error
	}{
		{"unknown listing", InitiateTransaction{ListingID: "nope", TierID: "GA", BuyerID: "b", Quantity: 1}, listing.ErrListingNotFound},
		{"inactive listing", InitiateTransaction{ListingID: "L2", TierID: "GA", BuyerID: "b", Quantity: 1}, listing.ErrListingInactive},
		{"unknown tier", InitiateTransaction{ListingID: "L1", TierID: "VIP", BuyerID: "b", Quantity: 1}, listing.ErrTierNotFound},
		{"zero quantity", InitiateTransaction{ListingID: "L1", TierID: "GA", BuyerID: "b", Quantity: 0}, transaction.ErrInvalidQuantity},
		{"self purchase", InitiateTransaction{ListingID: "L1", TierID: "GA", BuyerID: "seller-1", Quantity: 1}, transaction.ErrSelfPurchase},
		{"bad rate", InitiateTransaction{ListingID: "L1", TierID: "GA", BuyerID: "b", Quantity: 1, Rates: &commission.Rates{Seller: dec("1.5")}}, commission.ErrInvalidRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.handler.InitiateTransaction(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandler_InitiateTransaction_SoldOutIsInactive(t *testing.T) {
	env := newTestHandler(t)
	env.approve(t, "L1", 1)
	tx := env.initiate(t, "L1", 1)
	_, err := env.handler.ConfirmTransaction(context.Background(), ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})
	require.NoError(t, err)

	_, err = env.handler.InitiateTransaction(context.Background(), InitiateTransaction{
		ListingID: "L1", TierID: "GA", BuyerID: "buyer-2", Quantity: 1,
	})
	assert.ErrorIs(t, err, listing.ErrListingInactive)
	assert.ErrorIs(t, err, domain.ErrRejected)
}

// ============================================
// Confirm Tests
// ============================================

func TestHandler_ConfirmTransaction_SettlesAtomically(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 3)
	before := env.eventStore.CommitCount()

	settled, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})

	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSettled, settled.Status)
	assert.True(t, transaction.ValidTicketCode(settled.TicketCode))
	require.NotNil(t, settled.SettledAt)

	// One commit carrying reservation, settlement and accrual
	require.Equal(t, before+1, env.eventStore.CommitCount())
	batch := env.eventStore.CommitCalls[before]
	require.Len(t, batch, 3)
	assert.Equal(t, listing.EventTicketsReserved, batch[0].EventType)
	assert.Equal(t, transaction.EventTransactionSettled, batch[1].EventType)
	assert.Equal(t, ledger.EventCommissionAccrued, batch[2].EventType)

	status, err := env.handler.listingSvc.InventoryStatus(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 3, status[0].Sold)

	l, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(l.TotalCommission))
	assert.True(t, dec("15").Equal(l.SellerCommission))
	assert.True(t, dec("15").Equal(l.BuyerCommission))
}

func TestHandler_ConfirmTransaction_AlreadyFinalized(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	_, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})
	require.NoError(t, err)
	commits := env.eventStore.CommitCount()

	again, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})

	assert.ErrorIs(t, err, transaction.ErrAlreadyFinalized)
	require.NotNil(t, again)
	assert.Equal(t, transaction.StatusSettled, again.Status)
	assert.Equal(t, commits, env.eventStore.CommitCount(), "no second commit")

	l, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Accruals)
}

func TestHandler_ConfirmTransaction_PaymentFailure(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	failed, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeFailure})

	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, failed.Status)
	assert.Equal(t, transaction.ReasonPaymentFailed, failed.FailureReason)

	status, err := env.handler.listingSvc.InventoryStatus(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 0, status[0].Sold)
}

func TestHandler_ConfirmTransaction_Expired(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	env.clock.Advance(transaction.DefaultPaymentWindow + time.Second)
	failed, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})

	assert.ErrorIs(t, err, transaction.ErrTransactionExpired)
	require.NotNil(t, failed)
	assert.Equal(t, transaction.StatusFailed, failed.Status)
	assert.Equal(t, transaction.ReasonTransactionExpired, failed.FailureReason)

	l, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, l.TotalCommission.IsZero())
}

func TestHandler_ConfirmTransaction_ExactlyAtExpiryStillSettles(t *testing.T) {
	env := newTestHandler(t)
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	env.clock.Advance(transaction.DefaultPaymentWindow)
	settled, err := env.handler.ConfirmTransaction(context.Background(), ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})

	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSettled, settled.Status)
}

func TestHandler_ConfirmTransaction_InventoryExhausted(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 2)
	first := env.initiate(t, "L1", 2)
	second := env.initiate(t, "L1", 1)

	_, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: first.ID, Outcome: OutcomeSuccess})
	require.NoError(t, err)
	ledgerBefore, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)

	failed, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: second.ID, Outcome: OutcomeSuccess})

	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, failed.Status)
	assert.Equal(t, transaction.ReasonInventoryExhausted, failed.FailureReason)

	ledgerAfter, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ledgerBefore.TotalCommission.Equal(ledgerAfter.TotalCommission))
	assert.Equal(t, ledgerBefore.Version, ledgerAfter.Version)
}

func TestHandler_ConfirmTransaction_ListingDeactivated(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 5)
	tx := env.initiate(t, "L1", 1)
	_, err := env.handler.DeactivateListing(ctx, DeactivateListing{ListingID: "L1", Reason: "event cancelled"})
	require.NoError(t, err)

	failed, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})

	require.NoError(t, err)
	assert.Equal(t, transaction.ReasonListingInactive, failed.FailureReason)
}

func TestHandler_ConfirmTransaction_CommitErrorLeavesState(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	env.eventStore.CommitErr = errors.New("disk full")
	_, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})
	require.Error(t, err)
	env.eventStore.CommitErr = nil

	reloaded, err := env.handler.transactionSvc.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, reloaded.Status)

	status, err := env.handler.listingSvc.InventoryStatus(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 0, status[0].Sold)

	l, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Version)
}

func TestHandler_ConfirmTransaction_RetriesAfterConflict(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	conflicts := 0
	env.eventStore.CommitCallback = func(ctx context.Context, pending ...store.PendingEvent) ([]store.Event, error) {
		if len(pending) == 3 && conflicts == 0 {
			conflicts++
			return nil, store.ErrVersionConflict
		}
		return env.eventStore.Inner().Commit(ctx, pending...)
	}

	settled, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})

	require.NoError(t, err)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, transaction.StatusSettled, settled.Status)
}

func TestHandler_ConfirmTransaction_InvalidOutcome(t *testing.T) {
	env := newTestHandler(t)

	_, err := env.handler.ConfirmTransaction(context.Background(), ConfirmTransaction{TransactionID: "x", Outcome: "maybe"})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandler_ConfirmTransaction_NotFound(t *testing.T) {
	env := newTestHandler(t)

	_, err := env.handler.ConfirmTransaction(context.Background(), ConfirmTransaction{TransactionID: "missing", Outcome: OutcomeSuccess})

	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)
}

// ============================================
// Refund Tests
// ============================================

func TestHandler_RefundTransaction(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 2)
	_, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})
	require.NoError(t, err)

	refunded, err := env.handler.RefundTransaction(ctx, RefundTransaction{TransactionID: tx.ID, Reason: "buyer request"})

	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, refunded.Status)
	assert.Equal(t, "buyer request", refunded.RefundReason)

	l, err := env.ledgerSvc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, l.TotalCommission.IsZero())
	assert.Equal(t, 1, l.Reversals)

	// Sold tickets stay sold
	status, err := env.handler.listingSvc.InventoryStatus(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 2, status[0].Sold)

	_, err = env.handler.RefundTransaction(ctx, RefundTransaction{TransactionID: tx.ID, Reason: "again"})
	assert.ErrorIs(t, err, transaction.ErrNotSettled)
}

func TestHandler_RefundTransaction_PendingRejected(t *testing.T) {
	env := newTestHandler(t)
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)

	_, err := env.handler.RefundTransaction(context.Background(), RefundTransaction{TransactionID: tx.ID, Reason: "x"})

	assert.ErrorIs(t, err, transaction.ErrNotSettled)
}

// ============================================
// Expiry Tests
// ============================================

func TestHandler_ExpireStale(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	stale := env.initiate(t, "L1", 1)
	env.clock.Advance(10 * time.Minute)
	fresh := env.initiate(t, "L1", 1)

	for _, tx := range []*transaction.Transaction{stale, fresh} {
		require.NoError(t, env.readStore.Set(ctx, readmodel.CollectionTransactions, tx.ID, &readmodel.TransactionReadModel{
			ID:        tx.ID,
			Status:    string(tx.Status),
			ExpiresAt: tx.ExpiresAt,
		}))
	}

	env.clock.Advance(6 * time.Minute)
	n, err := env.handler.ExpireStale(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reloaded, err := env.handler.transactionSvc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, reloaded.Status)
	assert.Equal(t, transaction.ReasonTransactionExpired, reloaded.FailureReason)

	reloaded, err = env.handler.transactionSvc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, reloaded.Status)
}

func TestHandler_ExpireStale_SkipsStaleReadModel(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	env.approve(t, "L1", 10)
	tx := env.initiate(t, "L1", 1)
	_, err := env.handler.ConfirmTransaction(ctx, ConfirmTransaction{TransactionID: tx.ID, Outcome: OutcomeSuccess})
	require.NoError(t, err)

	// The projection has not caught up with the settlement yet
	require.NoError(t, env.readStore.Set(ctx, readmodel.CollectionTransactions, tx.ID, &readmodel.TransactionReadModel{
		ID:        tx.ID,
		Status:    string(transaction.StatusPending),
		ExpiresAt: tx.ExpiresAt,
	}))
	env.clock.Advance(time.Hour)

	n, err := env.handler.ExpireStale(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
