package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/config"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/metrics"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultMaxAttempts    = 10
	defaultRetryBackoff   = 2 * time.Second
	defaultPublishTimeout = 15 * time.Second
	maxRetryBackoff       = 5 * time.Minute
	maxLoopBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type busClient interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error
}

type outboxRepository interface {
	FetchPublishable(ctx context.Context, limit int, now time.Time) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, now time.Time) error
	MarkRetryTx(tx *gorm.DB, id uuid.UUID, attemptErr string, nextAttempt time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, attemptErr string) error
	PendingCount(ctx context.Context) (int64, error)
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.EventDLQ) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Bus        busClient
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   *events.Registry
	Metrics    *metrics.EventMetrics
}

// Service drains the outbox table onto the bus. Rows come back in
// per-aggregate order; a row that keeps failing earns exponential backoff via
// next_attempt_at and blocks its aggregate until it is published or
// dead-lettered.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           dbClient
	bus          busClient
	repo         outboxRepository
	dlq          dlqRepository
	registry     *events.Registry
	metrics      *metrics.EventMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	retryBackoff time.Duration
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
	if params.Bus == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBackoff := params.Config.Outbox.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		bus:          params.Bus,
		repo:         params.Repository,
		dlq:          params.DLQ,
		registry:     params.Registry,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
		retryBackoff: retryBackoff,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.bus.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		s.reportBacklog(ctx)
		if err != nil {
			dump := pkgerrors.Dump(err)
			errCtx := s.logg.WithFields(ctx, map[string]any{
				"error_chain": dump.Chain,
				"pg_code":     dump.PGCode,
				"pg_detail":   dump.PGDetail,
			})
			s.logg.Error(errCtx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, interval, maxLoopBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	rows, err := s.repo.FetchPublishable(ctx, s.batchSize, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	for _, row := range rows {
		if err := s.publishOne(ctx, row); err != nil {
			return true, err
		}
	}
	return true, nil
}

// publishOne pushes a single row to its topic and records the outcome. Only
// bookkeeping errors propagate; a publish failure is recorded on the row and
// the loop moves on.
func (s *Service) publishOne(ctx context.Context, row models.OutboxEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID,
		"attempt_count":  row.AttemptCount,
	})

	evt, err := s.registry.Decode(row.Payload)
	if err != nil {
		return s.handleTerminal(ctx, row, enums.DLQReasonMalformedEnvelope, err)
	}

	def, ok := s.registry.Definition(row.EventType)
	if !ok {
		return s.handleTerminal(ctx, row, enums.DLQReasonNonRetryable,
			fmt.Errorf("no topic registered for %s", row.EventType))
	}

	attrs := events.Attributes(evt)
	attrs["aggregate_type"] = string(row.AggregateType)
	attrs["aggregate_id"] = row.AggregateID

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	err = s.bus.Publish(publishCtx, def.Topic, row.Payload, attrs)
	cancel()
	if err != nil {
		return s.handlePublishFailure(ctx, row, err)
	}

	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.MarkPublishedTx(tx, row.ID, time.Now().UTC())
	}); err != nil {
		return fmt.Errorf("mark published %s: %w", row.ID, err)
	}
	s.metrics.IncPublished(string(row.EventType))
	s.logg.Info(s.logg.WithField(ctx, "topic", def.Topic), "outbox event published")
	return nil
}

func (s *Service) handlePublishFailure(ctx context.Context, row models.OutboxEvent, pubErr error) error {
	s.metrics.IncPublishFailure(string(row.EventType))

	attempt := row.AttemptCount + 1
	ctx = s.logg.WithFields(ctx, map[string]any{
		"attempt_count": attempt,
		"error":         pubErr.Error(),
	})

	if attempt >= s.maxAttempts {
		return s.handleTerminal(ctx, row, enums.DLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	next := time.Now().UTC().Add(retryDelay(s.retryBackoff, attempt))
	s.logg.Warn(ctx, "outbox publish failed, will retry")
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.MarkRetryTx(tx, row.ID, pubErr.Error(), next)
	}); err != nil {
		return fmt.Errorf("mark retry %s: %w", row.ID, err)
	}
	return nil
}

// handleTerminal moves the row to failed and files a publish-stage dead
// letter in the same transaction.
func (s *Service) handleTerminal(ctx context.Context, row models.OutboxEvent, reason enums.DLQReason, cause error) error {
	ctx = s.logg.WithField(ctx, "reason", string(reason))
	s.logg.Warn(s.logg.WithField(ctx, "error", cause.Error()), "outbox event will not be retried")

	msg := cause.Error()
	entry := models.EventDLQ{
		EventID:      row.ID,
		Consumer:     "",
		Stage:        enums.DLQStagePublish,
		EventType:    row.EventType,
		Payload:      row.Payload,
		Reason:       reason,
		ErrorMessage: &msg,
		AttemptCount: row.AttemptCount,
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", row.ID, err)
		}
		return s.repo.MarkFailedTx(tx, row.ID, msg)
	}); err != nil {
		return err
	}
	s.metrics.IncDeadLettered(string(enums.DLQStagePublish), string(reason))
	return nil
}

func (s *Service) reportBacklog(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	pending, err := s.repo.PendingCount(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "counting outbox backlog failed")
		return
	}
	s.metrics.SetOutboxBacklog(pending)
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay doubles per attempt from the configured base, capped.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
