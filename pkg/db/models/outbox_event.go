package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/verdant-events/pkg/enums"
)

// OutboxEvent is the durable record written alongside the business mutation
// that caused it. The primary key is the envelope's event id; the payload is
// the serialized envelope. Rows are never mutated by consumers.
type OutboxEvent struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.EventType     `gorm:"column:event_type;not null"`
	AggregateType enums.AggregateType `gorm:"column:aggregate_type;not null;index:ix_outbox_events_aggregate"`
	AggregateID   string              `gorm:"column:aggregate_id;not null;index:ix_outbox_events_aggregate"`
	Payload       json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.OutboxStatus  `gorm:"column:status;not null;default:pending"`
	AttemptCount  int                 `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt time.Time           `gorm:"column:next_attempt_at;not null"`
	LastError     *string             `gorm:"column:last_error"`
	OccurredAt    time.Time           `gorm:"column:occurred_at;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time          `gorm:"column:published_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
