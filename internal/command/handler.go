package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/domain/aggregate"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/domain/ledger"
	"github.com/example/ticket-ledger/internal/domain/listing"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/payment"
	"github.com/example/ticket-ledger/internal/readmodel"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// IntentIssuer builds the payment request handed back to a buyer.
type IntentIssuer interface {
	NewIntent(reference string, amount decimal.Decimal, note string, expiresAt time.Time) (payment.Intent, error)
}

type Handler struct {
	eventStore     store.EventStoreInterface
	readStore      store.ReadStoreInterface
	listingSvc     *listing.Service
	transactionSvc *transaction.Service
	ledgerSvc      *ledger.Service
	intents        IntentIssuer
	rates          commission.Rates
	maxAttempts    int
	logger         *logrus.Logger
}

type Option func(*Handler)

// WithRates sets the commission rates used when a command carries none.
func WithRates(r commission.Rates) Option {
	return func(h *Handler) { h.rates = r }
}

func WithMaxAttempts(n int) Option {
	return func(h *Handler) { h.maxAttempts = n }
}

func WithLogger(l *logrus.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(
	eventStore store.EventStoreInterface,
	readStore store.ReadStoreInterface,
	listingSvc *listing.Service,
	transactionSvc *transaction.Service,
	ledgerSvc *ledger.Service,
	intents IntentIssuer,
	opts ...Option,
) *Handler {
	h := &Handler{
		eventStore:     eventStore,
		readStore:      readStore,
		listingSvc:     listingSvc,
		transactionSvc: transactionSvc,
		ledgerSvc:      ledgerSvc,
		intents:        intents,
		rates:          commission.DefaultRates(),
		maxAttempts:    aggregate.DefaultMaxAttempts,
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ApproveListing registers an approved listing with its tiers.
func (h *Handler) ApproveListing(ctx context.Context, cmd ApproveListing) (*listing.Listing, error) {
	tiers := make([]listing.TierSpec, 0, len(cmd.Tiers))
	for _, t := range cmd.Tiers {
		tiers = append(tiers, listing.TierSpec{
			TierID:   t.TierID,
			Name:     t.Name,
			Price:    t.Price,
			Quantity: t.Quantity,
		})
	}
	return h.listingSvc.Approve(ctx, listing.Submission{
		ListingID: cmd.ListingID,
		SellerID:  cmd.SellerID,
		Title:     cmd.Title,
		Tiers:     tiers,
	}, cmd.ApprovedBy)
}

func (h *Handler) DeactivateListing(ctx context.Context, cmd DeactivateListing) (*listing.Listing, error) {
	return h.listingSvc.Deactivate(ctx, cmd.ListingID, cmd.Reason)
}

// InitiateResult is a pending transaction and the payment request for it.
type InitiateResult struct {
	Transaction *transaction.Transaction `json:"transaction"`
	Payment     payment.Intent           `json:"payment"`
}

// InitiateTransaction prices a purchase and records it as pending.
// Availability is only checked when the payment is confirmed.
func (h *Handler) InitiateTransaction(ctx context.Context, cmd InitiateTransaction) (*InitiateResult, error) {
	l, err := h.listingSvc.Get(ctx, cmd.ListingID)
	if err != nil {
		return nil, err
	}
	if !l.IsActive() {
		return nil, listing.ErrListingInactive
	}
	tier, ok := l.Tier(cmd.TierID)
	if !ok {
		return nil, listing.ErrTierNotFound
	}

	sellerID := cmd.SellerID
	if sellerID == "" {
		sellerID = l.SellerID
	}
	rates := h.rates
	if cmd.Rates != nil {
		rates = *cmd.Rates
	}

	tx, err := h.transactionSvc.Initiate(ctx, transaction.Draft{
		ListingID: l.ID,
		TierID:    tier.ID,
		BuyerID:   cmd.BuyerID,
		SellerID:  sellerID,
		UnitPrice: tier.Price,
		Quantity:  cmd.Quantity,
		Rates:     rates,
	})
	if err != nil {
		return nil, err
	}

	result := &InitiateResult{Transaction: tx}
	if h.intents == nil {
		return result, nil
	}
	note := fmt.Sprintf("%s x%d %s", l.Title, tx.Quantity, tier.Name)
	intent, err := h.intents.NewIntent(tx.ID, tx.Breakdown.BuyerPays, note, tx.ExpiresAt)
	if err != nil {
		// The pending transaction stays and expires on its own.
		h.logger.WithError(err).WithField("transaction_id", tx.ID).Error("[Command] Payment intent failed")
		return nil, fmt.Errorf("payment intent for %s: %w", tx.ID, err)
	}
	result.Payment = intent
	return result, nil
}

// ConfirmTransaction applies the payment outcome. A successful payment
// reserves inventory, settles the transaction and accrues commission in
// one commit; a reservation that no longer fits fails the transaction
// instead. The returned transaction reflects the final state even when an
// error is returned.
func (h *Handler) ConfirmTransaction(ctx context.Context, cmd ConfirmTransaction) (*transaction.Transaction, error) {
	if cmd.Outcome != OutcomeSuccess && cmd.Outcome != OutcomeFailure {
		return nil, fmt.Errorf("%w: outcome must be %q or %q", domain.ErrInvalidInput, OutcomeSuccess, OutcomeFailure)
	}

	var (
		tx      *transaction.Transaction
		outcome error
	)
	err := aggregate.RetryOnConflict(ctx, h.maxAttempts, func(attempt int) error {
		var err error
		outcome = nil
		tx, err = h.transactionSvc.Get(ctx, cmd.TransactionID)
		if err != nil {
			return err
		}
		if tx.IsFinal() {
			outcome = fmt.Errorf("%w: status is %s", transaction.ErrAlreadyFinalized, tx.Status)
			return nil
		}

		now := h.transactionSvc.Now()
		if cmd.Outcome == OutcomeFailure {
			return h.fail(ctx, tx, transaction.ReasonPaymentFailed, now)
		}
		if tx.IsExpired(now) {
			outcome = transaction.ErrTransactionExpired
			return h.fail(ctx, tx, transaction.ReasonTransactionExpired, now)
		}
		return h.settle(ctx, tx, now, attempt)
	})
	if err != nil {
		return nil, err
	}
	return tx, outcome
}

func (h *Handler) settle(ctx context.Context, tx *transaction.Transaction, now time.Time, attempt int) error {
	l, err := h.listingSvc.Get(ctx, tx.ListingID)
	if err != nil {
		return err
	}
	reserve, err := l.PlanReservation(tx.TierID, tx.Quantity, tx.ID, now)
	switch {
	case errors.Is(err, listing.ErrInsufficientInventory):
		return h.fail(ctx, tx, transaction.ReasonInventoryExhausted, now)
	case errors.Is(err, listing.ErrListingInactive):
		return h.fail(ctx, tx, transaction.ReasonListingInactive, now)
	case err != nil:
		return err
	}

	code, err := transaction.NewTicketCode()
	if err != nil {
		return err
	}
	settle, err := tx.PlanSettle(code, now)
	if err != nil {
		return err
	}

	events, err := h.eventStore.Commit(ctx, reserve, settle, ledger.Accrual(tx.ID, tx.Breakdown, now))
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			h.logger.WithFields(logrus.Fields{
				"transaction_id": tx.ID,
				"listing_id":     tx.ListingID,
				"attempt":        attempt,
			}).Debug("[Command] Settlement lost a version race")
		}
		return err
	}
	if err := aggregate.ApplyCommitted(tx, events); err != nil {
		return err
	}
	h.listingSvc.AfterCommit(ctx, l, events)
	h.ledgerSvc.AfterCommit(ctx, events)

	h.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"listing_id":     tx.ListingID,
		"ticket_code":    tx.TicketCode,
		"commission":     tx.Breakdown.TotalCommission.StringFixed(commission.MinorUnitPlaces),
	}).Info("[Command] Transaction settled")
	return nil
}

func (h *Handler) fail(ctx context.Context, tx *transaction.Transaction, reason transaction.FailureReason, now time.Time) error {
	pending, err := tx.PlanFail(reason, now)
	if err != nil {
		return err
	}
	events, err := h.eventStore.Commit(ctx, pending)
	if err != nil {
		return err
	}
	if err := aggregate.ApplyCommitted(tx, events); err != nil {
		return err
	}
	h.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"reason":         reason,
	}).Info("[Command] Transaction failed")
	return nil
}

// RefundTransaction refunds a settled transaction and reverses its
// commission. Sold inventory is not released.
func (h *Handler) RefundTransaction(ctx context.Context, cmd RefundTransaction) (*transaction.Transaction, error) {
	var tx *transaction.Transaction
	err := aggregate.RetryOnConflict(ctx, h.maxAttempts, func(attempt int) error {
		var err error
		tx, err = h.transactionSvc.Get(ctx, cmd.TransactionID)
		if err != nil {
			return err
		}
		now := h.transactionSvc.Now()
		refund, err := tx.PlanRefund(cmd.Reason, now)
		if err != nil {
			return err
		}
		events, err := h.eventStore.Commit(ctx, refund, ledger.Reversal(tx.ID, tx.Breakdown, cmd.Reason, now))
		if err != nil {
			return err
		}
		if err := aggregate.ApplyCommitted(tx, events); err != nil {
			return err
		}
		h.ledgerSvc.AfterCommit(ctx, events)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"reversed":       tx.Breakdown.TotalCommission.StringFixed(commission.MinorUnitPlaces),
	}).Info("[Command] Transaction refunded")
	return tx, nil
}

// ExpireStale fails pending transactions whose payment window has closed.
// Candidates come from the read store; each is rechecked against its
// stream before it is failed. It returns how many were expired.
func (h *Handler) ExpireStale(ctx context.Context) (int, error) {
	items, err := h.readStore.GetAll(ctx, readmodel.CollectionTransactions)
	if err != nil {
		return 0, err
	}

	now := h.transactionSvc.Now()
	expired := 0
	var errs []error
	for _, item := range items {
		rm, ok := item.(*readmodel.TransactionReadModel)
		if !ok || rm.Status != string(transaction.StatusPending) || !now.After(rm.ExpiresAt) {
			continue
		}
		done, err := h.expire(ctx, rm.ID)
		if err != nil {
			h.logger.WithError(err).WithField("transaction_id", rm.ID).Warn("[Command] Expiry failed")
			errs = append(errs, err)
			continue
		}
		if done {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (h *Handler) expire(ctx context.Context, transactionID string) (bool, error) {
	done := false
	err := aggregate.RetryOnConflict(ctx, h.maxAttempts, func(attempt int) error {
		tx, err := h.transactionSvc.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		now := h.transactionSvc.Now()
		if tx.Status != transaction.StatusPending || !tx.IsExpired(now) {
			return nil
		}
		if err := h.fail(ctx, tx, transaction.ReasonTransactionExpired, now); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}
