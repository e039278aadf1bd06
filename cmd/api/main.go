package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/ticket-ledger/internal/api"
	"github.com/example/ticket-ledger/internal/app"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/auth"
	"github.com/example/ticket-ledger/internal/clock"
	"github.com/example/ticket-ledger/internal/config"
	"github.com/example/ticket-ledger/internal/infrastructure/kafka"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/example/ticket-ledger/internal/projection"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("api", pflag.ExitOnError)
	flags := config.RegisterFlags(fs)
	noSweep := fs.Bool("no-sweeper", false, "do not expire stale transactions from this process")
	_ = fs.Parse(os.Args[1:])

	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("[API] Invalid configuration")
	}
	logger, err := applog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("[API] Invalid log settings")
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.WithError(err).Fatal("[API] Missing signing secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"store": cfg.Store.Driver,
		"kafka": cfg.Kafka.Brokers,
		"topic": cfg.Kafka.Topic,
	}).Info("[API] Ticket ledger starting")

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("[API] Failed to open backend")
	}
	defer backend.Close()

	readStore := backend.ReadStore()
	projector := projection.NewProjector(readStore, logger)

	// Without Kafka the projector sees every commit in process.
	var publisher store.Publisher = projector
	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer producer.Close()
		publisher = producer
	}

	eventStore, err := backend.EventStore(ctx, publisher)
	if err != nil {
		logger.WithError(err).Fatal("[API] Failed to open event store")
	}
	projector.UseEventSource(eventStore)

	ledger, err := app.NewLedger(cfg, eventStore, readStore, clock.NewSystem(), logger)
	if err != nil {
		logger.WithError(err).Fatal("[API] Failed to build services")
	}

	// Replay is idempotent, so it is safe even when the read store persisted.
	logger.Info("[API] Replaying events into read models...")
	if _, err := projector.Rebuild(ctx, eventStore); err != nil {
		logger.WithError(err).Fatal("[API] Replay failed")
	}

	var wg sync.WaitGroup
	if producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger)
		defer consumer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("[API] Starting Kafka consumer (async projection)")
			if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("[API] Projector stopped")
			}
		}()
	}

	if !*noSweep {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.RunSweeper(ctx, cfg.Sweeper.Interval, ledger.Commands, logger)
		}()
	}

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, time.Hour)
	router := api.NewRouter(api.RouterConfig{
		Handlers:    api.NewHandlers(ledger.Commands, ledger.Queries, logger),
		Validator:   jwtService,
		Logger:      logger,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("[API] Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("[API] Server error")
		}
	}()

	<-ctx.Done()
	logger.Info("[API] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("[API] Shutdown incomplete")
	}

	wg.Wait()
}
