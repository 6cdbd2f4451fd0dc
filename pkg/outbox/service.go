package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/logger"
)

// Service records events in the outbox inside the caller's transaction.
// Nothing becomes visible to the delivery channel before that transaction
// commits; if it aborts, no outbox row exists.
type Service struct {
	registry *events.Registry
	repo     *Repository
	logg     *logger.Logger
}

func NewService(registry *events.Registry, repo *Repository, logg *logger.Logger) (*Service, error) {
	if registry == nil {
		return nil, errors.New("event registry is required")
	}
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	return &Service{registry: registry, repo: repo, logg: logg}, nil
}

// Emit serializes the event and inserts its outbox row in tx. The aggregate
// identifies the source entity; delivery order is guaranteed per aggregate.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, evt *events.Event, aggregateID string) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if evt == nil {
		return errors.New("event required")
	}
	if aggregateID == "" {
		return errors.New("aggregate id required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	def, ok := s.registry.Definition(evt.Type)
	if !ok {
		return fmt.Errorf("%w: %s", events.ErrUnknownEventType, evt.Type)
	}

	eventID, err := uuid.Parse(evt.ID)
	if err != nil {
		return fmt.Errorf("event id must be a UUID: %w", err)
	}

	payload, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}

	row := models.OutboxEvent{
		ID:            eventID,
		EventType:     evt.Type,
		AggregateType: def.Aggregate,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        enums.OutboxStatusPending,
		NextAttemptAt: evt.OccurredAt,
		OccurredAt:    evt.OccurredAt,
	}
	if err := s.repo.InsertTx(tx, row); err != nil {
		return err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":       evt.ID,
			"event_type":     evt.Type,
			"aggregate_type": def.Aggregate,
			"aggregate_id":   aggregateID,
			"correlation_id": evt.CorrelationID,
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}

// Encode is a convenience that encodes and emits in one step.
func (s *Service) Encode(ctx context.Context, tx *gorm.DB, eventType enums.EventType, source, correlationID string, payload any, aggregateID string) (*events.Event, error) {
	evt, err := s.registry.Encode(eventType, source, correlationID, payload)
	if err != nil {
		return nil, err
	}
	if err := s.Emit(ctx, tx, evt, aggregateID); err != nil {
		return nil, err
	}
	return evt, nil
}
