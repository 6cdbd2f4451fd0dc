package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/logger"
)

var (
	ErrAlreadyReplayed = errors.New("dead letter entry already replayed")
	ErrNotReplayable   = errors.New("dead letter entry cannot be replayed")
)

// Publisher sends a serialized envelope to a topic. Implemented by the
// pubsub-backed publisher in production and by fakes in tests.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error
}

// ConsumedResetter clears the durable processed-mark for an (event, consumer)
// pair so a replayed delivery runs the handler again.
type ConsumedResetter interface {
	ClearTx(tx *gorm.DB, eventID uuid.UUID, consumerName string) error
}

// GuardResetter drops the redis fast-path mark for an (event, consumer)
// pair. Without this a replayed delivery would be acked by the fast path
// until the mark's TTL expired.
type GuardResetter interface {
	Release(ctx context.Context, consumerName, eventID string) error
}

// Replayer pushes dead-lettered events back through the pipeline. Publish-stage
// entries are requeued in the outbox; consume-stage entries are republished to
// their topic after the consumer's processed-marks are cleared.
type Replayer struct {
	client   *db.Client
	registry *events.Registry
	repo     *Repository
	dlq      *DLQRepository
	pub      Publisher
	consumed ConsumedResetter
	guard    GuardResetter
	logg     *logger.Logger
}

func NewReplayer(client *db.Client, registry *events.Registry, repo *Repository, dlq *DLQRepository, pub Publisher, consumed ConsumedResetter, guard GuardResetter, logg *logger.Logger) *Replayer {
	return &Replayer{
		client:   client,
		registry: registry,
		repo:     repo,
		dlq:      dlq,
		pub:      pub,
		consumed: consumed,
		guard:    guard,
		logg:     logg,
	}
}

// Replay reprocesses one dead letter entry. Replaying an already-replayed
// entry fails with ErrAlreadyReplayed; malformed-envelope entries are not
// replayable because decoding would fail again.
func (r *Replayer) Replay(ctx context.Context, id uuid.UUID) error {
	entry, err := r.dlq.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.ReplayedAt != nil {
		return ErrAlreadyReplayed
	}
	if entry.Reason == enums.DLQReasonMalformedEnvelope {
		return fmt.Errorf("%w: envelope is malformed", ErrNotReplayable)
	}

	now := time.Now().UTC()
	switch entry.Stage {
	case enums.DLQStagePublish:
		err = r.client.WithTx(ctx, func(tx *gorm.DB) error {
			if err := r.repo.RequeueTx(tx, entry.EventID, now); err != nil {
				return err
			}
			return r.dlq.MarkReplayedTx(tx, entry.ID, now)
		})
	case enums.DLQStageConsume:
		err = r.replayConsume(ctx, entry.EventID, entry.Consumer, entry.ID, now)
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrNotReplayable, entry.Stage)
	}
	if err != nil {
		return err
	}

	if r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"dlq_id":   entry.ID.String(),
			"event_id": entry.EventID.String(),
			"stage":    string(entry.Stage),
		})
		r.logg.Info(logCtx, "dead letter entry replayed")
	}
	return nil
}

func (r *Replayer) replayConsume(ctx context.Context, eventID uuid.UUID, consumerName string, dlqID uuid.UUID, now time.Time) error {
	entry, err := r.dlq.FindByID(ctx, dlqID)
	if err != nil {
		return err
	}

	evt, err := r.registry.Decode(entry.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReplayable, err)
	}
	def, ok := r.registry.Definition(evt.Type)
	if !ok {
		return fmt.Errorf("%w: %s is not registered", ErrNotReplayable, evt.Type)
	}

	// The fast-path mark goes first; a missing mark just falls through to
	// the durable check if the reset below aborts.
	if r.guard != nil {
		if err := r.guard.Release(ctx, consumerName, evt.ID); err != nil {
			return fmt.Errorf("releasing fast-path mark: %w", err)
		}
	}

	if err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		if r.consumed != nil {
			if err := r.consumed.ClearTx(tx, eventID, consumerName); err != nil {
				return err
			}
		}
		return r.dlq.MarkReplayedTx(tx, dlqID, now)
	}); err != nil {
		return err
	}

	return r.pub.Publish(ctx, def.Topic, entry.Payload, events.Attributes(evt))
}
