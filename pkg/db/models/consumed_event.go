package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/verdant-events/pkg/enums"
)

// ConsumedEvent is the per-consumer deduplication record. The composite key
// (event_id, consumer_name) guarantees a consumer processes a given event id
// at most once regardless of redelivery count. Rows are written when a
// handler completes (success or terminal failure) and never updated.
type ConsumedEvent struct {
	EventID      uuid.UUID            `gorm:"column:event_id;type:uuid;primaryKey"`
	ConsumerName string               `gorm:"column:consumer_name;primaryKey"`
	Outcome      enums.ConsumeOutcome `gorm:"column:outcome;not null"`
	ProcessedAt  time.Time            `gorm:"column:processed_at;not null"`
}

func (ConsumedEvent) TableName() string {
	return "consumed_events"
}
