package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ticket-ledger/internal/app"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/infrastructure/kafka"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/projection"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("sweeper", pflag.ExitOnError)
	flags := config.RegisterFlags(fs)
	once := fs.Bool("once", false, "run a single sweep and exit")
	_ = fs.Parse(os.Args[1:])

	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("[Sweeper] Invalid configuration")
	}
	logger, err := applog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("[Sweeper] Invalid log settings")
	}

	// Candidates come from the read store, so it must be the one the API
	// process projects into.
	if cfg.Store.DatabaseURL == "" {
		logger.Fatal("[Sweeper] DATABASE_URL is required for a shared read store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("[Sweeper] Failed to open backend")
	}
	defer backend.Close()

	readStore := backend.ReadStore()
	projector := projection.NewProjector(readStore, logger)
	var publisher store.Publisher = projector
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer producer.Close()
		publisher = producer
	}

	eventStore, err := backend.EventStore(ctx, publisher)
	if err != nil {
		logger.WithError(err).Fatal("[Sweeper] Failed to open event store")
	}
	projector.UseEventSource(eventStore)
	ledger, err := app.NewLedger(cfg, eventStore, readStore, clock.NewSystem(), logger)
	if err != nil {
		logger.WithError(err).Fatal("[Sweeper] Failed to build services")
	}

	if *once {
		n, err := ledger.Commands.ExpireStale(ctx)
		entry := logger.WithField("expired", n)
		if err != nil {
			entry.WithError(err).Fatal("[Sweeper] Sweep failed")
		}
		entry.Info("[Sweeper] Sweep complete")
		return
	}

	app.RunSweeper(ctx, cfg.Sweeper.Interval, ledger.Commands, logger)
}
