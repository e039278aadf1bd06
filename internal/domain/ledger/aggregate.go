// Package ledger keeps the platform's running commission total as one
// append-only event stream.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/ticket-ledger/internal/domain/aggregate"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	AggregateType = "CommissionLedger"
	// LedgerID is the single stream every accrual and reversal is appended to.
	LedgerID = "commission-ledger"
)

// Ledger holds the running totals. Entries are appended with
// store.AnyVersion; the transaction event committed alongside carries the
// version check that makes each accrual happen once.
type Ledger struct {
	ID               string          `json:"id"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
	Accruals         int             `json:"accruals"`
	Reversals        int             `json:"reversals"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
}

// Aggregate interface implementation
func (l *Ledger) GetID() string    { return l.ID }
func (l *Ledger) GetVersion() int  { return l.Version }
func (l *Ledger) SetVersion(v int) { l.Version = v }

func (l *Ledger) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventCommissionAccrued:
		var data CommissionAccrued
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.TotalCommission = l.TotalCommission.Add(data.TotalCommission)
		l.SellerCommission = l.SellerCommission.Add(data.SellerCommission)
		l.BuyerCommission = l.BuyerCommission.Add(data.BuyerCommission)
		l.Accruals++
		l.UpdatedAt = data.AccruedAt
	case EventCommissionReversed:
		var data CommissionReversed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		l.TotalCommission = l.TotalCommission.Sub(data.TotalCommission)
		l.SellerCommission = l.SellerCommission.Sub(data.SellerCommission)
		l.BuyerCommission = l.BuyerCommission.Sub(data.BuyerCommission)
		l.Reversals++
		l.UpdatedAt = data.ReversedAt
	}
	l.Version = event.Version
	return nil
}

// Accrual returns the ledger entry for a settled transaction.
func Accrual(transactionID string, b commission.Breakdown, at time.Time) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:     LedgerID,
		AggregateType:   AggregateType,
		EventType:       EventCommissionAccrued,
		ExpectedVersion: store.AnyVersion,
		Data: CommissionAccrued{
			TransactionID:    transactionID,
			SellerCommission: b.SellerCommission,
			BuyerCommission:  b.BuyerCommission,
			TotalCommission:  b.TotalCommission,
			AccruedAt:        at,
		},
	}
}

// Reversal returns the ledger entry undoing a refunded transaction's accrual.
func Reversal(transactionID string, b commission.Breakdown, reason string, at time.Time) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:     LedgerID,
		AggregateType:   AggregateType,
		EventType:       EventCommissionReversed,
		ExpectedVersion: store.AnyVersion,
		Data: CommissionReversed{
			TransactionID:    transactionID,
			SellerCommission: b.SellerCommission,
			BuyerCommission:  b.BuyerCommission,
			TotalCommission:  b.TotalCommission,
			Reason:           reason,
			ReversedAt:       at,
		},
	}
}

// Entry is one line of the commission log.
type Entry struct {
	Kind             string          `json:"kind"`
	TransactionID    string          `json:"transaction_id"`
	SellerCommission decimal.Decimal `json:"seller_commission"`
	BuyerCommission  decimal.Decimal `json:"buyer_commission"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	Reason           string          `json:"reason,omitempty"`
	At               time.Time       `json:"at"`
	Version          int             `json:"version"`
}

type Service struct {
	eventStore store.EventStoreInterface
	logger     *logrus.Logger
}

func NewService(es store.EventStoreInterface, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{eventStore: es, logger: logger}
}

// Get returns the running totals; an untouched ledger is all zeros.
func (s *Service) Get(ctx context.Context) (*Ledger, error) {
	l, _, err := aggregate.LoadAggregate(ctx, s.eventStore, LedgerID, func() *Ledger {
		return &Ledger{ID: LedgerID}
	})
	if err != nil {
		return nil, err
	}
	l.ID = LedgerID
	return l, nil
}

// Entries returns the full accrual and reversal log in order.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	events, err := s.eventStore.GetEvents(ctx, LedgerID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(events))
	for _, e := range events {
		switch e.EventType {
		case EventCommissionAccrued:
			var d CommissionAccrued
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, err
			}
			entries = append(entries, Entry{
				Kind:             "accrual",
				TransactionID:    d.TransactionID,
				SellerCommission: d.SellerCommission,
				BuyerCommission:  d.BuyerCommission,
				TotalCommission:  d.TotalCommission,
				At:               d.AccruedAt,
				Version:          e.Version,
			})
		case EventCommissionReversed:
			var d CommissionReversed
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, err
			}
			entries = append(entries, Entry{
				Kind:             "reversal",
				TransactionID:    d.TransactionID,
				SellerCommission: d.SellerCommission,
				BuyerCommission:  d.BuyerCommission,
				TotalCommission:  d.TotalCommission,
				Reason:           d.Reason,
				At:               d.ReversedAt,
				Version:          e.Version,
			})
		}
	}
	return entries, nil
}

// AfterCommit snapshots the ledger when a committed batch carried it across
// the snapshot threshold. Failures are logged; snapshots only save replay.
func (s *Service) AfterCommit(ctx context.Context, events []store.Event) {
	highest := 0
	for _, e := range events {
		if e.AggregateID == LedgerID && e.Version > highest {
			highest = e.Version
		}
	}
	if highest == 0 || highest/store.SnapshotThreshold == (highest-1)/store.SnapshotThreshold {
		return
	}

	l, err := s.Get(ctx)
	if err == nil {
		err = aggregate.MaybeCreateSnapshot(ctx, s.eventStore, l, AggregateType, highest-1)
	}
	if err != nil {
		s.logger.WithError(err).Warn("[Ledger] Snapshot failed")
	}
}
