package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bruinhooks/internal/api"
	"bruinhooks/internal/config"
	"bruinhooks/internal/events"
	"bruinhooks/internal/logging"
	"bruinhooks/internal/metrics"
	"bruinhooks/internal/retention"
	"bruinhooks/internal/store"
	"bruinhooks/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("bruin webhooks stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	st, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Webhook.SeedFile != "" {
		inputs, err := store.LoadSeed(cfg.Webhook.SeedFile)
		if err != nil {
			return err
		}
		n, err := store.ApplySeed(ctx, st, inputs)
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		log.WithFields(logrus.Fields{"file": cfg.Webhook.SeedFile, "created": n}).Info("webhook seed applied")
	}

	broker := api.NewBroker()
	exec := webhooks.NewExecutor(&http.Client{}, cfg.Webhook.AttemptTimeout)
	retrier := webhooks.NewRetrier(exec, st, webhooks.PolicyFromConfig(cfg.Webhook), log,
		webhooks.WithRateLimit(cfg.Webhook.RatePerSec, cfg.Webhook.RateBurst))
	retrier.OnAttempt = broker.Publish
	dispatcher := webhooks.NewDispatcher(st, retrier, cfg.Webhook.MaxInFlight, log)

	// Redis domain-event source
	sourceDone := make(chan struct{})
	if cfg.Redis.URL != "" {
		rdb, err := events.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		src := events.NewRedisSource(rdb, cfg.Redis.EventsChannel, log)
		go func() {
			defer close(sourceDone)
			if err := src.Run(ctx, dispatcher); err != nil {
				log.WithError(err).Error("redis event source stopped")
			}
		}()
	} else {
		close(sourceDone)
	}

	pruner, err := retention.New(cfg.Retention, st, log)
	if err != nil {
		return err
	}
	if pruner != nil {
		pruner.Start()
		defer pruner.Stop()
		log.WithFields(logrus.Fields{"max_age": cfg.Retention.MaxAge, "schedule": cfg.Retention.Schedule}).Info("delivery log retention enabled")
	}

	srvDeps := api.NewServer(st, dispatcher, broker, log, cfg)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	<-sourceDone
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("webhook deliveries still running at shutdown")
	}
	return nil
}

// openStore picks Postgres when DATABASE_URL is set, otherwise the in-memory store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (store.Store, func(), error) {
	if cfg.URL == "" {
		log.Warn("DATABASE_URL not set; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		mctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := pg.Migrate(mctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}
