// Package transaction records ticket sales and drives them through
// pending, settled, failed and refunded.
package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticket-ledger/internal/domain"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

const AggregateType = "Transaction"

type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

type FailureReason string

const (
	ReasonPaymentFailed      FailureReason = "PaymentFailed"
	ReasonTransactionExpired FailureReason = "TransactionExpired"
	ReasonInventoryExhausted FailureReason = "InventoryExhausted"
	// ReasonListingInactive covers a listing deactivated while payment was pending.
	ReasonListingInactive FailureReason = "ListingInactive"
)

var (
	ErrTransactionNotFound = fmt.Errorf("%w: transaction not found", domain.ErrNotFound)
	ErrAlreadyFinalized    = fmt.Errorf("%w: transaction already finalized", domain.ErrRejected)
	ErrTransactionExpired  = fmt.Errorf("%w: transaction expired", domain.ErrRejected)
	ErrNotSettled          = fmt.Errorf("%w: only settled transactions can be refunded", domain.ErrRejected)
	ErrInvalidStatus       = fmt.Errorf("%w: invalid transaction status transition", domain.ErrRejected)
	ErrInvalidQuantity     = fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	ErrMissingBuyer        = fmt.Errorf("%w: buyer is required", domain.ErrInvalidInput)
	ErrSelfPurchase        = fmt.Errorf("%w: buyer cannot purchase their own listing", domain.ErrInvalidInput)
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusSettled, StatusFailed},
	StatusSettled:  {StatusRefunded},
	StatusFailed:   {}, // terminal state
	StatusRefunded: {}, // terminal state
}

type Transaction struct {
	ID            string               `json:"id"`
	ListingID     string               `json:"listing_id"`
	TierID        string               `json:"tier_id"`
	BuyerID       string               `json:"buyer_id"`
	SellerID      string               `json:"seller_id"`
	UnitPrice     decimal.Decimal      `json:"unit_price"`
	Quantity      int                  `json:"quantity"`
	Rates         commission.Rates     `json:"rates"`
	Breakdown     commission.Breakdown `json:"breakdown"`
	Status        Status               `json:"status"`
	FailureReason FailureReason        `json:"failure_reason,omitempty"`
	RefundReason  string               `json:"refund_reason,omitempty"`
	TicketCode    string               `json:"ticket_code,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ExpiresAt     time.Time            `json:"expires_at"`
	SettledAt     *time.Time           `json:"settled_at,omitempty"`
	FailedAt      *time.Time           `json:"failed_at,omitempty"`
	RefundedAt    *time.Time           `json:"refunded_at,omitempty"`
	Version       int                  `json:"version"`
}

// Aggregate interface implementation
func (t *Transaction) GetID() string    { return t.ID }
func (t *Transaction) GetVersion() int  { return t.Version }
func (t *Transaction) SetVersion(v int) { t.Version = v }

// CanTransitionTo checks if the transaction can transition to the target status
func (t *Transaction) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[t.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// IsFinal reports whether confirmation can no longer change the transaction.
func (t *Transaction) IsFinal() bool {
	return t.Status != StatusPending
}

// IsExpired reports whether the payment window has closed at now.
func (t *Transaction) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ApplyEvent applies a single event to the transaction state (implements aggregate.Aggregate)
func (t *Transaction) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventTransactionInitiated:
		var data TransactionInitiated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t.ID = data.TransactionID
		t.ListingID = data.ListingID
		t.TierID = data.TierID
		t.BuyerID = data.BuyerID
		t.SellerID = data.SellerID
		t.UnitPrice = data.UnitPrice
		t.Quantity = data.Quantity
		t.Rates = data.Rates
		t.Breakdown = data.Breakdown
		t.Status = StatusPending
		t.CreatedAt = data.InitiatedAt
		t.ExpiresAt = data.ExpiresAt
	case EventTransactionSettled:
		var data TransactionSettled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t.Status = StatusSettled
		t.TicketCode = data.TicketCode
		t.SettledAt = &data.SettledAt
	case EventTransactionFailed:
		var data TransactionFailed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t.Status = StatusFailed
		t.FailureReason = data.Reason
		t.FailedAt = &data.FailedAt
	case EventTransactionRefunded:
		var data TransactionRefunded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t.Status = StatusRefunded
		t.RefundReason = data.Reason
		t.RefundedAt = &data.RefundedAt
	}
	t.Version = event.Version
	return nil
}

func (t *Transaction) pending(eventType string, data any) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:     t.ID,
		AggregateType:   AggregateType,
		EventType:       eventType,
		ExpectedVersion: t.Version,
		Data:            data,
	}
}

func (t *Transaction) checkTransition(target Status) error {
	if t.CanTransitionTo(target) {
		return nil
	}
	switch {
	case target == StatusRefunded:
		return fmt.Errorf("%w: status is %s", ErrNotSettled, t.Status)
	case t.IsFinal():
		return fmt.Errorf("%w: status is %s", ErrAlreadyFinalized, t.Status)
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, t.Status, target)
	}
}

// PlanSettle returns the settlement event for a pending transaction.
func (t *Transaction) PlanSettle(ticketCode string, at time.Time) (store.PendingEvent, error) {
	if err := t.checkTransition(StatusSettled); err != nil {
		return store.PendingEvent{}, err
	}
	return t.pending(EventTransactionSettled, TransactionSettled{
		TransactionID: t.ID,
		ListingID:     t.ListingID,
		BuyerID:       t.BuyerID,
		Breakdown:     t.Breakdown,
		TicketCode:    ticketCode,
		SettledAt:     at,
	}), nil
}

// PlanFail returns the failure event for a pending transaction.
func (t *Transaction) PlanFail(reason FailureReason, at time.Time) (store.PendingEvent, error) {
	if err := t.checkTransition(StatusFailed); err != nil {
		return store.PendingEvent{}, err
	}
	return t.pending(EventTransactionFailed, TransactionFailed{
		TransactionID: t.ID,
		Reason:        reason,
		FailedAt:      at,
	}), nil
}

// PlanRefund returns the refund event for a settled transaction.
func (t *Transaction) PlanRefund(reason string, at time.Time) (store.PendingEvent, error) {
	if err := t.checkTransition(StatusRefunded); err != nil {
		return store.PendingEvent{}, err
	}
	return t.pending(EventTransactionRefunded, TransactionRefunded{
		TransactionID: t.ID,
		Reason:        reason,
		RefundedAt:    at,
	}), nil
}
