package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/verdantops/verdant-events/internal/ops"
	"github.com/verdantops/verdant-events/pkg/config"
	"github.com/verdantops/verdant-events/pkg/consumer"
	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/instance"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/metrics"
	"github.com/verdantops/verdant-events/pkg/migrate"
	"github.com/verdantops/verdant-events/pkg/outbox"
	"github.com/verdantops/verdant-events/pkg/pubsub"
	"github.com/verdantops/verdant-events/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "scheduling-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: cfg.Service.Kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		// The worker stays correct without the fast path; it only loses the
		// cheap duplicate short-circuit and attempt counting precision.
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()),
			"redis unavailable, continuing without idempotency fast path")
		redisClient = nil
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	registry, err := events.NewDefaultRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}

	eventMetrics := metrics.NewEventMetrics(prometheus.DefaultRegisterer)

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Registry: registry,
		Metrics:  eventMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
		os.Exit(1)
	}

	var guard outbox.GuardResetter
	if redisClient != nil {
		g, err := consumer.NewIdempotencyGuard(redisClient, cfg.Consumer.IdempotencyTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to build idempotency guard", err)
			os.Exit(1)
		}
		guard = g
	}

	dlqRepo := outbox.NewDLQRepository(dbClient)
	replayer := outbox.NewReplayer(dbClient, registry, outbox.NewRepository(dbClient), dlqRepo,
		pubsubClient, consumer.NewConsumedRepository(dbClient), guard, logg)

	var redisPinger ops.Pinger
	if redisClient != nil {
		redisPinger = redisClient
	}
	opsServer := &http.Server{
		Addr: cfg.Ops.Addr,
		Handler: ops.NewRouter(ops.RouterParams{
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisPinger,
			PubSub:   pubsubClient,
			DLQ:      dlqRepo,
			Replayer: replayer,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting scheduling worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", runErr)
	}

	var closeErr error
	closeErr = multierr.Append(closeErr, pubsubClient.Close())
	if redisClient != nil {
		closeErr = multierr.Append(closeErr, redisClient.Close())
	}
	closeErr = multierr.Append(closeErr, dbClient.Close())
	if closeErr != nil {
		logg.Error(ctx, "error closing worker dependencies", closeErr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
