package listing

import (
	"context"
	"errors"

	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/domain/aggregate"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Service struct {
	eventStore  store.EventStoreInterface
	clock       clock.Clock
	logger      *logrus.Logger
	maxAttempts int
}

type ServiceOption func(*Service)

func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *logrus.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMaxAttempts bounds the retries of Reserve on version conflicts.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) { s.maxAttempts = n }
}

func NewService(es store.EventStoreInterface, opts ...ServiceOption) *Service {
	s := &Service{
		eventStore:  es,
		clock:       clock.NewSystem(),
		logger:      logrus.StandardLogger(),
		maxAttempts: aggregate.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submission is an approved ticket submission turned into a listing.
type Submission struct {
	ListingID string
	SellerID  string
	Title     string
	Tiers     []TierSpec
}

// Approve creates a listing from a submission.
func (s *Service) Approve(ctx context.Context, sub Submission, approvedBy string) (*Listing, error) {
	if sub.SellerID == "" {
		return nil, ErrMissingSeller
	}
	tiers, err := validateTiers(sub.Tiers)
	if err != nil {
		return nil, err
	}
	if sub.ListingID == "" {
		sub.ListingID = uuid.New().String()
	}

	events, err := s.eventStore.Commit(ctx, store.PendingEvent{
		AggregateID:     sub.ListingID,
		AggregateType:   AggregateType,
		EventType:       EventListingApproved,
		ExpectedVersion: 0,
		Data: ListingApproved{
			ListingID:  sub.ListingID,
			SellerID:   sub.SellerID,
			Title:      sub.Title,
			Tiers:      tiers,
			ApprovedBy: approvedBy,
			ApprovedAt: s.clock.Now(),
		},
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrListingExists
	}
	if err != nil {
		return nil, err
	}

	l := &Listing{ID: sub.ListingID}
	if err := aggregate.ApplyCommitted(l, events); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"listing_id": l.ID, "tiers": len(l.Tiers)}).Info("[Listing] Approved")
	return l, nil
}

// Get loads a listing, failing with ErrListingNotFound when it has no events.
func (s *Service) Get(ctx context.Context, listingID string) (*Listing, error) {
	l, found, err := aggregate.LoadAggregate(ctx, s.eventStore, listingID, func() *Listing {
		return &Listing{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrListingNotFound
	}
	return l, nil
}

// Deactivate soft-deletes a listing; no further reservations are accepted.
func (s *Service) Deactivate(ctx context.Context, listingID, reason string) (*Listing, error) {
	var l *Listing
	err := aggregate.RetryOnConflict(ctx, s.maxAttempts, func(int) error {
		var err error
		l, err = s.Get(ctx, listingID)
		if err != nil {
			return err
		}
		if l.Deactivated {
			return ErrAlreadyDeactivated
		}
		from := l.Version
		events, err := s.eventStore.Commit(ctx, store.PendingEvent{
			AggregateID:     l.ID,
			AggregateType:   AggregateType,
			EventType:       EventListingDeactivated,
			ExpectedVersion: l.Version,
			Data: ListingDeactivated{
				ListingID:     l.ID,
				Reason:        reason,
				DeactivatedAt: s.clock.Now(),
			},
		})
		if err != nil {
			return err
		}
		if err := aggregate.ApplyCommitted(l, events); err != nil {
			return err
		}
		s.snapshot(ctx, l, from)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Reserve increments a tier's sold count. The read of the available count
// and the write of the new sold count are one versioned commit; a lost race
// reloads and decides again.
func (s *Service) Reserve(ctx context.Context, listingID, tierID string, quantity int) (*Listing, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var l *Listing
	err := aggregate.RetryOnConflict(ctx, s.maxAttempts, func(attempt int) error {
		var err error
		l, err = s.Get(ctx, listingID)
		if err != nil {
			return err
		}
		pending, err := l.PlanReservation(tierID, quantity, "", s.clock.Now())
		if err != nil {
			return err
		}
		from := l.Version
		events, err := s.eventStore.Commit(ctx, pending)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.logger.WithFields(logrus.Fields{"listing_id": listingID, "attempt": attempt}).Debug("[Listing] Reservation lost a version race")
			}
			return err
		}
		if err := aggregate.ApplyCommitted(l, events); err != nil {
			return err
		}
		s.snapshot(ctx, l, from)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// InventoryStatus reads the authoritative per-tier counters.
func (s *Service) InventoryStatus(ctx context.Context, listingID string) ([]TierStatus, error) {
	l, err := s.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return l.InventoryStatus(), nil
}

// AfterCommit brings a listing up to date with events committed elsewhere
// (the settle batch) and snapshots it when due.
func (s *Service) AfterCommit(ctx context.Context, l *Listing, events []store.Event) {
	from := l.Version
	if err := aggregate.ApplyCommitted(l, events); err != nil {
		s.logger.WithError(err).WithField("listing_id", l.ID).Warn("[Listing] Could not apply committed events")
		return
	}
	s.snapshot(ctx, l, from)
}

// snapshot failures only cost replay time, so they are logged.
func (s *Service) snapshot(ctx context.Context, l *Listing, from int) {
	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, l, AggregateType, from); err != nil {
		s.logger.WithError(err).WithField("listing_id", l.ID).Warn("[Listing] Snapshot failed")
	}
}

