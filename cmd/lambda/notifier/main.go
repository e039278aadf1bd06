package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/ticket-ledger/internal/app"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/email"
	"github.com/example/ticket-ledger/internal/infrastructure/kinesis"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/notification"
	"github.com/sirupsen/logrus"
)

// Mails settlement receipts for DynamoDB event store inserts delivered
// through Kinesis.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatal("[Lambda Notifier] Invalid configuration")
	}
	logger, err := applog.New(cfg.Log.Level, "json")
	if err != nil {
		logrus.WithError(err).Fatal("[Lambda Notifier] Invalid log settings")
	}
	if !cfg.SMTP.Enabled() {
		logger.Fatal("[Lambda Notifier] SMTP_HOST and OPERATOR_EMAIL are required")
	}

	var readStore store.ReadStoreInterface
	if cfg.Store.DatabaseURL != "" {
		backend, err := app.Open(context.Background(), cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("[Lambda Notifier] Failed to open backend")
		}
		readStore = backend.ReadStore()
	}

	from := cfg.SMTP.From
	if from == "" {
		from = cfg.SMTP.OperatorEmail
	}
	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, from)
	handler := notification.NewHandler(emailSvc, readStore, cfg.SMTP.OperatorEmail, cfg.Payment.Currency, logger)
	logger.WithField("smtp", cfg.SMTP.Host).Info("[Lambda Notifier] Initialized")

	lambda.Start(func(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
		return kinesis.Dispatch(ctx, batch, handler.Apply, logger), nil
	})
}
