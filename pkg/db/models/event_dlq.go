package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/verdant-events/pkg/enums"
)

// EventDLQ captures events that exhausted their retry budget or failed
// permanently, held for manual or automated replay. The (event_id, consumer)
// pair is unique so a delivery can be dead-lettered at most once; publisher
// entries use an empty consumer.
type EventDLQ struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID      uuid.UUID       `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_event_dlq_event_consumer"`
	Consumer     string          `gorm:"column:consumer;not null;default:'';uniqueIndex:ux_event_dlq_event_consumer"`
	Stage        enums.DLQStage  `gorm:"column:stage;not null"`
	EventType    enums.EventType `gorm:"column:event_type;not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Reason       enums.DLQReason `gorm:"column:reason;not null"`
	ErrorMessage *string         `gorm:"column:error_message"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time       `gorm:"column:failed_at;not null"`
	ReplayedAt   *time.Time      `gorm:"column:replayed_at"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (EventDLQ) TableName() string {
	return "event_dlq"
}
