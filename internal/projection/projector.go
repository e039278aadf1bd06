package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/domain/ledger"
	"github.com/example/ticket-ledger/internal/domain/listing"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/readmodel"
	"github.com/sirupsen/logrus"
)

// ErrOutOfOrder is returned when an event is ahead of its read model and the
// missing versions cannot be loaded.
var ErrOutOfOrder = errors.New("event is ahead of its read model")

// EventSource reads a stream back from the event store.
type EventSource interface {
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]store.Event, error)
}

// Projector folds committed events into the read models. Delivery is at
// least once and not necessarily in order: every model remembers the last
// event version it applied, repeated events are dropped and an event that
// skips versions pulls the missing ones from the event source first.
type Projector struct {
	readStore store.ReadStoreInterface
	source    EventSource
	logger    *logrus.Logger

	statsMu    sync.Mutex
	statsReady bool
}

func NewProjector(readStore store.ReadStoreInterface, logger *logrus.Logger) *Projector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Projector{readStore: readStore, logger: logger}
}

// UseEventSource sets where version gaps are filled from. It must be called
// before events are delivered.
func (p *Projector) UseEventSource(src EventSource) {
	p.source = src
}

// Publish lets the projector stand in for a broker: events committed by an
// in-process store are projected synchronously.
func (p *Projector) Publish(ctx context.Context, key string, event any) error {
	if e, ok := event.(store.Event); ok {
		return p.Apply(ctx, e)
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.HandleEvent(ctx, []byte(key), value)
}

func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	return p.Apply(ctx, event)
}

// Apply projects a single decoded event.
func (p *Projector) Apply(ctx context.Context, event store.Event) error {
	p.logger.WithFields(logrus.Fields{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"version":      event.Version,
	}).Debug("[Projector] Received event")

	switch event.AggregateType {
	case listing.AggregateType:
		return p.handleListingEvent(ctx, event)
	case transaction.AggregateType:
		return p.handleTransactionEvent(ctx, event)
	case ledger.AggregateType:
		// The ledger is read from its own stream.
		return nil
	}
	return nil
}

func (p *Projector) handleListingEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case listing.EventListingApproved:
		var e listing.ListingApproved
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		if _, found, err := p.readStore.Get(ctx, readmodel.CollectionListings, e.ListingID); err != nil || found {
			return err
		}
		tiers := make([]readmodel.TierReadModel, 0, len(e.Tiers))
		for _, t := range e.Tiers {
			tiers = append(tiers, readmodel.TierReadModel{
				TierID: t.TierID,
				Name:   t.Name,
				Price:  t.Price,
				Total:  t.Quantity,
			})
		}
		lm := &readmodel.ListingReadModel{
			ID:         e.ListingID,
			SellerID:   e.SellerID,
			Title:      e.Title,
			Tiers:      tiers,
			ApprovedBy: e.ApprovedBy,
			CreatedAt:  e.ApprovedAt,
			UpdatedAt:  e.ApprovedAt,
			Version:    event.Version,
		}
		lm.Recompute()
		return p.readStore.Set(ctx, readmodel.CollectionListings, e.ListingID, lm)

	case listing.EventTicketsReserved:
		var e listing.TicketsReserved
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.updateListing(ctx, event, e.ListingID, func(lm *readmodel.ListingReadModel) {
			for i := range lm.Tiers {
				if lm.Tiers[i].TierID == e.TierID {
					lm.Tiers[i].Sold += e.Quantity
				}
			}
			lm.UpdatedAt = e.ReservedAt
		})

	case listing.EventListingDeactivated:
		var e listing.ListingDeactivated
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.updateListing(ctx, event, e.ListingID, func(lm *readmodel.ListingReadModel) {
			lm.Deactivated = true
			lm.UpdatedAt = e.DeactivatedAt
		})
	}
	return nil
}

func (p *Projector) updateListing(ctx context.Context, event store.Event, id string, fn func(*readmodel.ListingReadModel)) error {
	behind := -1
	found, err := p.readStore.Update(ctx, readmodel.CollectionListings, id, func(current any) any {
		lm := current.(*readmodel.ListingReadModel)
		if event.Version <= lm.Version {
			return lm
		}
		if event.Version > lm.Version+1 {
			behind = lm.Version
			return lm
		}
		fn(lm)
		lm.Recompute()
		lm.Version = event.Version
		return lm
	})
	if err != nil {
		return err
	}
	if !found {
		if p.source == nil || event.Version <= 1 {
			p.logger.WithField("listing_id", id).Warn("[Projector] Event for unknown listing")
			return nil
		}
		return p.catchUp(ctx, event, 0)
	}
	if behind >= 0 {
		return p.catchUp(ctx, event, behind)
	}
	return nil
}

// catchUp applies the versions after from, up to and including event, in
// stream order.
func (p *Projector) catchUp(ctx context.Context, event store.Event, from int) error {
	if p.source == nil {
		return fmt.Errorf("%w: %s at v%d, got v%d", ErrOutOfOrder, event.AggregateID, from, event.Version)
	}
	missing, err := p.source.GetEventsFromVersion(ctx, event.AggregateID, from)
	if err != nil {
		return fmt.Errorf("load %s after v%d: %w", event.AggregateID, from, err)
	}

	next := from + 1
	for _, e := range missing {
		if e.Version > event.Version {
			break
		}
		if e.Version != next {
			return fmt.Errorf("%w: %s expected v%d, store has v%d", ErrOutOfOrder, event.AggregateID, next, e.Version)
		}
		if err := p.Apply(ctx, e); err != nil {
			return err
		}
		next++
	}
	if next <= event.Version {
		return fmt.Errorf("%w: %s ends at v%d, got v%d", ErrOutOfOrder, event.AggregateID, next-1, event.Version)
	}

	p.logger.WithFields(logrus.Fields{
		"aggregate_id": event.AggregateID,
		"from":         from,
		"to":           event.Version,
	}).Debug("[Projector] Filled version gap")
	return nil
}

func (p *Projector) handleTransactionEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case transaction.EventTransactionInitiated:
		var e transaction.TransactionInitiated
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		if _, found, err := p.readStore.Get(ctx, readmodel.CollectionTransactions, e.TransactionID); err != nil || found {
			return err
		}
		status := string(transaction.StatusPending)
		if err := p.readStore.Set(ctx, readmodel.CollectionTransactions, e.TransactionID, &readmodel.TransactionReadModel{
			ID:        e.TransactionID,
			ListingID: e.ListingID,
			TierID:    e.TierID,
			BuyerID:   e.BuyerID,
			SellerID:  e.SellerID,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice,
			Breakdown: e.Breakdown,
			Status:    status,
			CreatedAt: e.InitiatedAt,
			ExpiresAt: e.ExpiresAt,
			UpdatedAt: e.InitiatedAt,
			Version:   event.Version,
		}); err != nil {
			return err
		}
		return p.moveStats(ctx, "", status, e.Breakdown)

	case transaction.EventTransactionSettled:
		var e transaction.TransactionSettled
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.transition(ctx, event, e.TransactionID, transaction.StatusSettled, func(tm *readmodel.TransactionReadModel) {
			tm.TicketCode = e.TicketCode
			tm.SettledAt = &e.SettledAt
			tm.UpdatedAt = e.SettledAt
		})

	case transaction.EventTransactionFailed:
		var e transaction.TransactionFailed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.transition(ctx, event, e.TransactionID, transaction.StatusFailed, func(tm *readmodel.TransactionReadModel) {
			tm.FailureReason = string(e.Reason)
			tm.FailedAt = &e.FailedAt
			tm.UpdatedAt = e.FailedAt
		})

	case transaction.EventTransactionRefunded:
		var e transaction.TransactionRefunded
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.transition(ctx, event, e.TransactionID, transaction.StatusRefunded, func(tm *readmodel.TransactionReadModel) {
			tm.RefundReason = e.Reason
			tm.RefundedAt = &e.RefundedAt
			tm.UpdatedAt = e.RefundedAt
		})
	}
	return nil
}

// transition moves a transaction read model to a new status and shifts its
// commission between the status buckets of the stats model.
func (p *Projector) transition(
	ctx context.Context,
	event store.Event,
	id string,
	to transaction.Status,
	fn func(*readmodel.TransactionReadModel),
) error {
	var (
		applied   bool
		behind    = -1
		from      string
		breakdown commission.Breakdown
	)
	found, err := p.readStore.Update(ctx, readmodel.CollectionTransactions, id, func(current any) any {
		tm := current.(*readmodel.TransactionReadModel)
		if event.Version <= tm.Version {
			return tm
		}
		if event.Version > tm.Version+1 {
			behind = tm.Version
			return tm
		}
		applied = true
		from = tm.Status
		breakdown = tm.Breakdown
		fn(tm)
		tm.Status = string(to)
		tm.Version = event.Version
		return tm
	})
	if err != nil {
		return err
	}
	if !found {
		if p.source == nil || event.Version <= 1 {
			p.logger.WithField("transaction_id", id).Warn("[Projector] Event for unknown transaction")
			return nil
		}
		return p.catchUp(ctx, event, 0)
	}
	if behind >= 0 {
		return p.catchUp(ctx, event, behind)
	}
	if !applied || from == string(to) {
		return nil
	}
	return p.moveStats(ctx, from, string(to), breakdown)
}

func (p *Projector) moveStats(ctx context.Context, from, to string, b commission.Breakdown) error {
	if err := p.ensureStats(ctx); err != nil {
		return err
	}
	_, err := p.readStore.Update(ctx, readmodel.CollectionCommissionStats, readmodel.CommissionStatsID, func(current any) any {
		stats := current.(*readmodel.CommissionStatsReadModel)
		stats.Move(from, to, b)
		return stats
	})
	return err
}

// ensureStats creates the stats document the first time it is needed.
func (p *Projector) ensureStats(ctx context.Context) error {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if p.statsReady {
		return nil
	}
	_, found, err := p.readStore.Get(ctx, readmodel.CollectionCommissionStats, readmodel.CommissionStatsID)
	if err != nil {
		return fmt.Errorf("load commission stats: %w", err)
	}
	if !found {
		if err := p.readStore.Set(ctx, readmodel.CollectionCommissionStats, readmodel.CommissionStatsID, readmodel.NewCommissionStats()); err != nil {
			return err
		}
	}
	p.statsReady = true
	return nil
}

// Rebuild replays every stored event in commit order into the read store.
func (p *Projector) Rebuild(ctx context.Context, eventStore store.EventStoreInterface) (int, error) {
	events, err := eventStore.GetAllEvents(ctx)
	if err != nil {
		return 0, err
	}
	for i, e := range events {
		if err := p.Apply(ctx, e); err != nil {
			return i, fmt.Errorf("replay %s v%d: %w", e.AggregateID, e.Version, err)
		}
	}
	p.logger.WithField("events", len(events)).Info("[Projector] Rebuild complete")
	return len(events), nil
}
