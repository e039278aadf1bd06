package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ticket-ledger/internal/app"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/infrastructure/kafka"
	"github.com/example/ticket-ledger/internal/projection"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("projector", pflag.ExitOnError)
	flags := config.RegisterFlags(fs)
	rebuild := fs.Bool("rebuild", false, "replay the whole event store into the read store and exit")
	_ = fs.Parse(os.Args[1:])

	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("[Projector] Invalid configuration")
	}
	logger, err := applog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("[Projector] Invalid log settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("[Projector] Failed to open backend")
	}
	defer backend.Close()

	projector := projection.NewProjector(backend.ReadStore(), logger)
	eventStore, err := backend.EventStore(ctx, nil)
	if err != nil {
		logger.WithError(err).Fatal("[Projector] Failed to open event store")
	}
	projector.UseEventSource(eventStore)

	if *rebuild {
		n, err := projector.Rebuild(ctx, eventStore)
		if err != nil {
			logger.WithError(err).WithField("applied", n).Fatal("[Projector] Rebuild failed")
		}
		return
	}

	if !cfg.Kafka.Enabled() {
		logger.Fatal("[Projector] KAFKA_BROKERS is required unless --rebuild is set")
	}

	logger.WithFields(logrus.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
		"group":   cfg.Kafka.GroupID,
	}).Info("[Projector] Starting event consumer")

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger)
	defer consumer.Close()

	if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("[Projector] Consumer stopped")
	}
	logger.Info("[Projector] Shutting down...")
}
