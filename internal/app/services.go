package app

import (
	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/command"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/domain/ledger"
	"github.com/example/ticket-ledger/internal/domain/listing"
	"github.com/example/ticket-ledger/internal/domain/transaction"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/payment"
	"github.com/example/ticket-ledger/internal/query"
	"github.com/sirupsen/logrus"
)

// Ledger bundles the domain services and the command and query sides built
// on them.
type Ledger struct {
	Listings     *listing.Service
	Transactions *transaction.Service
	Commissions  *ledger.Service
	Commands     *command.Handler
	Queries      *query.Handler
}

// NewLedger wires the services over one event store and read store.
func NewLedger(cfg *config.Config, es store.EventStoreInterface, rs store.ReadStoreInterface, clk clock.Clock, logger *logrus.Logger) (*Ledger, error) {
	upi, err := payment.NewUPI(cfg.Payment.UPIVPA, cfg.Payment.MerchantName, cfg.Payment.Currency)
	if err != nil {
		return nil, err
	}

	listings := listing.NewService(es,
		listing.WithClock(clk),
		listing.WithLogger(logger),
		listing.WithMaxAttempts(cfg.Store.MaxAttempts),
	)
	transactions := transaction.NewService(es,
		transaction.WithClock(clk),
		transaction.WithLogger(logger),
		transaction.WithPaymentWindow(cfg.Payment.Window),
	)
	commissions := ledger.NewService(es, logger)

	return &Ledger{
		Listings:     listings,
		Transactions: transactions,
		Commissions:  commissions,
		Commands: command.NewHandler(es, rs, listings, transactions, commissions, upi,
			command.WithRates(cfg.Commission),
			command.WithMaxAttempts(cfg.Store.MaxAttempts),
			command.WithLogger(logger),
		),
		Queries: query.NewHandler(rs, listings, transactions, commissions, logger),
	}, nil
}
