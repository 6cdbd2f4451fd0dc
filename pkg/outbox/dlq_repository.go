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

// DLQRepository stores events that exhausted retries or can never succeed.
type DLQRepository struct {
	client *db.Client
}

func NewDLQRepository(client *db.Client) *DLQRepository {
	return &DLQRepository{client: client}
}

// InsertTx records a dead-lettered event. The unique (event_id, consumer)
// index makes a redelivered failure a no-op instead of a second row.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.EventDLQ) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	err := tx.Create(&entry).Error
	if err != nil && db.IsUniqueViolation(err, "ux_event_dlq_event_consumer") {
		return nil
	}
	return err
}

func (r *DLQRepository) Insert(ctx context.Context, entry models.EventDLQ) error {
	return r.InsertTx(r.client.DB().WithContext(ctx), entry)
}

// List returns dead letter entries newest first. A zero stage means all
// stages; replayed entries are excluded unless includeReplayed is set.
func (r *DLQRepository) List(ctx context.Context, stage enums.DLQStage, includeReplayed bool, limit int) ([]models.EventDLQ, error) {
	q := r.client.DB().WithContext(ctx).Model(&models.EventDLQ{})
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}
	if !includeReplayed {
		q = q.Where("replayed_at IS NULL")
	}
	if limit <= 0 {
		limit = 100
	}
	var entries []models.EventDLQ
	if err := q.Order("failed_at desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *DLQRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.EventDLQ, error) {
	var entry models.EventDLQ
	if err := r.client.DB().WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *DLQRepository) MarkReplayedTx(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	return tx.Model(&models.EventDLQ{}).
		Where("id = ?", id).
		Update("replayed_at", now).Error
}

// CountUnreplayed feeds the dead letter gauge on the ops surface.
func (r *DLQRepository) CountUnreplayed(ctx context.Context) (int64, error) {
	var n int64
	err := r.client.DB().WithContext(ctx).Model(&models.EventDLQ{}).
		Where("replayed_at IS NULL").
		Count(&n).Error
	return n, err
}
