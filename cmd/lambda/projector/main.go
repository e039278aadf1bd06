package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/ticket-ledger/internal/app"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/infrastructure/kinesis"
	"github.com/example/ticket-ledger/internal/projection"
	"github.com/sirupsen/logrus"
)

// Projects DynamoDB event store inserts, delivered through Kinesis, into the
// PostgreSQL read store.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatal("[Lambda Projector] Invalid configuration")
	}
	logger, err := applog.New(cfg.Log.Level, "json")
	if err != nil {
		logrus.WithError(err).Fatal("[Lambda Projector] Invalid log settings")
	}
	if cfg.Store.DatabaseURL == "" {
		logger.Fatal("[Lambda Projector] DATABASE_URL is required")
	}

	backend, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("[Lambda Projector] Failed to open backend")
	}
	projector := projection.NewProjector(backend.ReadStore(), logger)
	eventStore, err := backend.EventStore(context.Background(), nil)
	if err != nil {
		logger.WithError(err).Fatal("[Lambda Projector] Failed to open event store")
	}
	projector.UseEventSource(eventStore)
	logger.Info("[Lambda Projector] Initialized")

	lambda.Start(func(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
		return kinesis.Dispatch(ctx, batch, projector.Apply, logger), nil
	})
}
