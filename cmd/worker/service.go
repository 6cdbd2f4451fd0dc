package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"

	"github.com/verdantops/verdant-events/internal/scheduling"
	"github.com/verdantops/verdant-events/internal/workflows"
	"github.com/verdantops/verdant-events/pkg/clients"
	"github.com/verdantops/verdant-events/pkg/config"
	"github.com/verdantops/verdant-events/pkg/consumer"
	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/metrics"
	"github.com/verdantops/verdant-events/pkg/outbox"
	"github.com/verdantops/verdant-events/pkg/pubsub"
	"github.com/verdantops/verdant-events/pkg/redis"
)

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	PubSub   *pubsub.Client
	Registry *events.Registry
	Metrics  *metrics.EventMetrics
}

// Service supervises one dispatcher per subscription: appointment creations
// from the scheduling CRUD layer, weather alerts, and team availability
// changes. Each dispatcher owns its consumer name so the durable dedup
// records stay independent.
type Service struct {
	logg   *logger.Logger
	pubsub *pubsub.Client

	appointments *consumer.Dispatcher
	weather      *consumer.Dispatcher
	availability *consumer.Dispatcher
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config
	logg := params.Logger

	outboxSvc, err := outbox.NewService(params.Registry, outbox.NewRepository(params.DB), logg)
	if err != nil {
		return nil, err
	}

	appointmentRepo := scheduling.NewAppointmentRepository(params.DB)
	teamRepo := scheduling.NewTeamRepository(params.DB)

	var userClient *clients.UserClient
	if cfg.Clients.UserServiceURL != "" {
		userClient, err = clients.NewUserClient(cfg.Clients.UserServiceURL, cfg.Clients.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("building user client: %w", err)
		}
	}
	var catalogClient *clients.CatalogClient
	if cfg.Clients.CatalogServiceURL != "" {
		catalogClient, err = clients.NewCatalogClient(cfg.Clients.CatalogServiceURL, cfg.Clients.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("building catalog client: %w", err)
		}
	}

	source := cfg.Service.Name
	created, err := workflows.NewAppointmentCreatedWorkflow(
		params.Registry, outboxSvc, appointmentRepo,
		userClient, catalogClient, cfg.Clients.RequestTimeout, logg, source,
	)
	if err != nil {
		return nil, err
	}
	alerts, err := workflows.NewWeatherAlertWorkflow(params.Registry, outboxSvc, appointmentRepo, logg, source)
	if err != nil {
		return nil, err
	}
	reassignment, err := workflows.NewReassignmentWorkflow(
		params.Registry, outboxSvc, appointmentRepo, teamRepo, nil, logg, source,
	)
	if err != nil {
		return nil, err
	}

	var guard *consumer.IdempotencyGuard
	var attempts *consumer.AttemptCounter
	if params.Redis != nil {
		guard, err = consumer.NewIdempotencyGuard(params.Redis, cfg.Consumer.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		attempts, err = consumer.NewAttemptCounter(params.Redis, cfg.Consumer.AttemptsTTL)
		if err != nil {
			return nil, err
		}
	}

	consumed := consumer.NewConsumedRepository(params.DB)
	dlq := outbox.NewDLQRepository(params.DB)

	newDispatcher := func(name string) (*consumer.Dispatcher, error) {
		return consumer.NewDispatcher(consumer.DispatcherParams{
			Name:        name,
			Registry:    params.Registry,
			Client:      params.DB,
			Consumed:    consumed,
			Guard:       guard,
			Attempts:    attempts,
			DLQ:         dlq,
			Metrics:     params.Metrics,
			Logger:      logg,
			MaxAttempts: int64(cfg.Consumer.MaxAttempts),
		})
	}

	base := cfg.Service.Kind
	appointments, err := newDispatcher(base + ".appointments")
	if err != nil {
		return nil, err
	}
	if err := appointments.Handle(enums.EventAppointmentCreated, created.Handle); err != nil {
		return nil, err
	}

	weather, err := newDispatcher(base + ".weather")
	if err != nil {
		return nil, err
	}
	if err := weather.Handle(enums.EventWeatherAlertUpdated, alerts.Handle); err != nil {
		return nil, err
	}

	availability, err := newDispatcher(base + ".availability")
	if err != nil {
		return nil, err
	}
	if err := availability.Handle(enums.EventMemberAvailability, reassignment.Handle); err != nil {
		return nil, err
	}

	return &Service{
		logg:         logg,
		pubsub:       params.PubSub,
		appointments: appointments,
		weather:      weather,
		availability: availability,
	}, nil
}

// Run blocks until the context is canceled or a dispatcher fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.runDispatcher(gctx, "appointments", s.appointments, s.pubsub.SchedulingSubscription())
	})
	g.Go(func() error {
		return s.runDispatcher(gctx, "weather", s.weather, s.pubsub.WeatherSubscription())
	})
	g.Go(func() error {
		return s.runDispatcher(gctx, "availability", s.availability, s.pubsub.UserSubscription())
	})

	return g.Wait()
}

func (s *Service) runDispatcher(ctx context.Context, label string, d *consumer.Dispatcher, sub *gcppubsub.Subscriber) error {
	if sub == nil {
		return fmt.Errorf("subscription for %s is not configured", label)
	}
	s.logg.Info(s.logg.WithField(ctx, "dispatcher", label), "dispatcher starting")
	if err := d.Run(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatcher %s: %w", label, err)
	}
	return nil
}
