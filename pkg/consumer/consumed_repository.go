package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
)

// ConsumedRepository is the durable idempotency ledger. A row exists exactly
// when the (event, consumer) pair reached a terminal outcome; the insert
// shares the handler's transaction so the mark and the side effects commit
// together.
type ConsumedRepository struct {
	client *db.Client
}

func NewConsumedRepository(client *db.Client) *ConsumedRepository {
	return &ConsumedRepository{client: client}
}

// ErrAlreadyConsumed is returned by MarkTx when another delivery won the race.
var ErrAlreadyConsumed = errors.New("event already consumed")

func (r *ConsumedRepository) MarkTx(tx *gorm.DB, eventID uuid.UUID, consumerName string, outcome enums.ConsumeOutcome) error {
	row := models.ConsumedEvent{
		EventID:      eventID,
		ConsumerName: consumerName,
		Outcome:      outcome,
		ProcessedAt:  time.Now().UTC(),
	}
	err := tx.Create(&row).Error
	if err != nil && db.IsUniqueViolation(err, "consumed_events_pkey") {
		return ErrAlreadyConsumed
	}
	return err
}

// WasConsumed reports whether the pair already has a terminal outcome.
func (r *ConsumedRepository) WasConsumed(ctx context.Context, eventID uuid.UUID, consumerName string) (bool, error) {
	var n int64
	err := r.client.DB().WithContext(ctx).Model(&models.ConsumedEvent{}).
		Where("event_id = ? AND consumer_name = ?", eventID, consumerName).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearTx removes the processed-mark so a replayed event runs again.
func (r *ConsumedRepository) ClearTx(tx *gorm.DB, eventID uuid.UUID, consumerName string) error {
	return tx.Where("event_id = ? AND consumer_name = ?", eventID, consumerName).
		Delete(&models.ConsumedEvent{}).Error
}
