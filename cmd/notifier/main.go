package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ticket-ledger/internal/app"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/email"
	"github.com/example/ticket-ledger/internal/infrastructure/kafka"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Dedicated consumer group so receipts don't compete with projection.
const consumerGroup = "ticket-ledger-notifier"

func main() {
	fs := pflag.NewFlagSet("notifier", pflag.ExitOnError)
	flags := config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("[Notifier] Invalid configuration")
	}
	logger, err := applog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("[Notifier] Invalid log settings")
	}
	if !cfg.Kafka.Enabled() || !cfg.SMTP.Enabled() {
		logger.Fatal("[Notifier] KAFKA_BROKERS, SMTP_HOST and OPERATOR_EMAIL are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The read store only enriches receipts, so it is used when PostgreSQL
	// is configured and skipped otherwise.
	var readStore store.ReadStoreInterface
	if cfg.Store.DatabaseURL != "" {
		backend, err := app.Open(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("[Notifier] Failed to open backend")
		}
		defer backend.Close()
		readStore = backend.ReadStore()
	}

	from := cfg.SMTP.From
	if from == "" {
		from = cfg.SMTP.OperatorEmail
	}
	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, from)
	handler := notification.NewHandler(emailSvc, readStore, cfg.SMTP.OperatorEmail, cfg.Payment.Currency, logger)

	logger.WithFields(logrus.Fields{
		"topic":    cfg.Kafka.Topic,
		"group":    consumerGroup,
		"smtp":     cfg.SMTP.Host,
		"operator": cfg.SMTP.OperatorEmail,
	}).Info("[Notifier] Starting event consumer")

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, consumerGroup, logger)
	defer consumer.Close()

	if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("[Notifier] Consumer stopped")
	}
	logger.Info("[Notifier] Shutting down...")
}
