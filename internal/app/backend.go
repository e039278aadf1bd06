// Package app assembles stores and services from configuration so every
// command wires them the same way.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/infrastructure/store/migrations"
	"github.com/sirupsen/logrus"
)

// Backend owns the database handles for one process.
type Backend struct {
	cfg     *config.Config
	logger  *logrus.Logger
	db      *sql.DB
	read    store.ReadStoreInterface
	closers []func() error
}

// Open connects to PostgreSQL when the configuration names it, either as the
// event store or as the read store next to another event store, and applies
// the schema migrations.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Backend, error) {
	b := &Backend{cfg: cfg, logger: logger}
	if cfg.Store.DatabaseURL != "" {
		db, err := store.ConnectPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := migrations.Apply(ctx, db); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.db = db
		logger.Info("[App] Connected to PostgreSQL")
	}
	return b, nil
}

// ReadStore returns the PostgreSQL read store when a database is configured
// and an in-memory one otherwise.
func (b *Backend) ReadStore() store.ReadStoreInterface {
	if b.read == nil {
		if b.db != nil {
			b.read = store.NewPostgresReadStore(b.db)
		} else {
			b.read = store.NewMemoryReadStore()
		}
	}
	return b.read
}

// EventStore opens the configured event store. Committed events go to
// publisher when it is not nil.
func (b *Backend) EventStore(ctx context.Context, publisher store.Publisher) (store.EventStoreInterface, error) {
	opts := []store.Option{store.WithLogger(b.logger)}
	if publisher != nil {
		opts = append(opts, store.WithPublisher(publisher))
	}

	switch b.cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewEventStore(opts...), nil

	case config.DriverPostgres:
		if b.db == nil {
			return nil, errors.New("postgres driver needs a database url")
		}
		return store.NewPostgresEventStore(b.db, opts...), nil

	case config.DriverBadger:
		es, err := store.OpenBadgerEventStore(b.cfg.Store.BadgerDir, opts...)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		b.closers = append(b.closers, es.Close)
		return es, nil

	case config.DriverDynamo:
		client, err := b.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoEventStore(client, b.cfg.Store.DynamoTable, b.cfg.Store.DynamoSnapshotTable, opts...), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", b.cfg.Store.Driver)
}

func (b *Backend) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := b.cfg.Store.DynamoEndpoint
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Close releases every handle in reverse order of opening.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
