package transaction

import (
	"context"
	"time"

	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/domain/aggregate"
	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultPaymentWindow is how long a pending transaction waits for payment.
const DefaultPaymentWindow = 15 * time.Minute

type Service struct {
	eventStore    store.EventStoreInterface
	clock         clock.Clock
	logger        *logrus.Logger
	paymentWindow time.Duration
}

type ServiceOption func(*Service)

func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *logrus.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithPaymentWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.paymentWindow = d
		}
	}
}

func NewService(es store.EventStoreInterface, opts ...ServiceOption) *Service {
	s := &Service{
		eventStore:    es,
		clock:         clock.NewSystem(),
		logger:        logrus.StandardLogger(),
		paymentWindow: DefaultPaymentWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the service clock, shared with the settlement flow.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Draft is a purchase resolved against its listing.
type Draft struct {
	ListingID string
	TierID    string
	BuyerID   string
	SellerID  string
	UnitPrice decimal.Decimal
	Quantity  int
	Rates     commission.Rates
}

// Initiate validates a draft, prices it and records a pending transaction.
// Inventory is not touched.
func (s *Service) Initiate(ctx context.Context, d Draft) (*Transaction, error) {
	if d.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if d.BuyerID == "" {
		return nil, ErrMissingBuyer
	}
	if d.BuyerID == d.SellerID {
		return nil, ErrSelfPurchase
	}
	if err := d.Rates.Validate(); err != nil {
		return nil, err
	}

	base := d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity)))
	breakdown, err := d.Rates.Compute(base)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := s.clock.Now()
	events, err := s.eventStore.Commit(ctx, store.PendingEvent{
		AggregateID:     id,
		AggregateType:   AggregateType,
		EventType:       EventTransactionInitiated,
		ExpectedVersion: 0,
		Data: TransactionInitiated{
			TransactionID: id,
			ListingID:     d.ListingID,
			TierID:        d.TierID,
			BuyerID:       d.BuyerID,
			SellerID:      d.SellerID,
			UnitPrice:     d.UnitPrice,
			Quantity:      d.Quantity,
			Rates:         d.Rates,
			Breakdown:     breakdown,
			InitiatedAt:   now,
			ExpiresAt:     now.Add(s.paymentWindow),
		},
	})
	if err != nil {
		return nil, err
	}

	t := &Transaction{ID: id}
	if err := aggregate.ApplyCommitted(t, events); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"listing_id":     t.ListingID,
		"tier_id":        t.TierID,
		"buyer_pays":     t.Breakdown.BuyerPays.StringFixed(commission.MinorUnitPlaces),
	}).Info("[Transaction] Initiated")
	return t, nil
}

// Get loads a transaction by id
func (s *Service) Get(ctx context.Context, transactionID string) (*Transaction, error) {
	t, found, err := aggregate.LoadAggregate(ctx, s.eventStore, transactionID, func() *Transaction {
		return &Transaction{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}
