package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
)

// Repository reads and mutates outbox rows.
type Repository struct {
	client *db.Client
}

func NewRepository(client *db.Client) *Repository {
	return &Repository{client: client}
}

func (r *Repository) InsertTx(tx *gorm.DB, row models.OutboxEvent) error {
	return tx.Create(&row).Error
}

// FetchPublishable returns up to limit pending rows that are due and are the
// oldest pending row for their aggregate. Rows behind an undelivered sibling
// stay invisible so per-aggregate order survives retries.
func (r *Repository) FetchPublishable(ctx context.Context, limit int, now time.Time) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.client.DB().WithContext(ctx).
		Where("status = ?", enums.OutboxStatusPending).
		Where("next_attempt_at <= ?", now).
		Where(`NOT EXISTS (
			SELECT 1 FROM outbox_events prior
			WHERE prior.aggregate_type = outbox_events.aggregate_type
			  AND prior.aggregate_id = outbox_events.aggregate_id
			  AND prior.status = ?
			  AND (prior.occurred_at < outbox_events.occurred_at
			       OR (prior.occurred_at = outbox_events.occurred_at AND prior.id < outbox_events.id))
		)`, enums.OutboxStatusPending).
		Order("occurred_at asc, id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPublished,
			"published_at": now,
			"last_error":   nil,
		}).Error
}

// MarkRetryTx records a failed publish attempt and schedules the next one.
func (r *Repository) MarkRetryTx(tx *gorm.DB, id uuid.UUID, attemptErr string, nextAttempt time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttempt,
			"last_error":      attemptErr,
		}).Error
}

// MarkFailedTx marks a row terminally failed. It stays out of the publishable
// set until an operator replays it from the dead letter queue.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, attemptErr string) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.OutboxStatusFailed,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    attemptErr,
		}).Error
}

// Requeue flips a failed row back to pending so the publisher picks it up.
func (r *Repository) RequeueTx(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Where("status = ?", enums.OutboxStatusFailed).
		Updates(map[string]any{
			"status":          enums.OutboxStatusPending,
			"next_attempt_at": now,
		}).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	if err := r.client.DB().WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// PendingCount reports rows still waiting for delivery, for ops visibility.
func (r *Repository) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.client.DB().WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ?", enums.OutboxStatusPending).
		Count(&n).Error
	return n, err
}
