package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/verdant-events/pkg/enums"
)

// Appointment is the scheduling service's local view of a booked visit.
// Reconciliation workflows only touch the weather risk flag and the
// assignment fields; the rest belongs to the CRUD layer.
type Appointment struct {
	ID                      uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ClientID                uuid.UUID               `gorm:"column:client_id;type:uuid;not null;uniqueIndex:ux_appointments_slot"`
	ServiceID               int64                   `gorm:"column:service_id;not null;uniqueIndex:ux_appointments_slot"`
	AssigneeID              *int64                  `gorm:"column:assignee_id"`
	ScheduledAt             time.Time               `gorm:"column:scheduled_at;not null;uniqueIndex:ux_appointments_slot;index:ix_appointments_scheduled_at"`
	Postcode                string                  `gorm:"column:postcode;not null;uniqueIndex:ux_appointments_slot"`
	Status                  enums.AppointmentStatus `gorm:"column:status;not null;default:scheduled"`
	WeatherRisk             enums.WeatherRisk       `gorm:"column:weather_risk;not null;default:unknown"`
	NeedsManualReassignment bool                    `gorm:"column:needs_manual_reassignment;not null;default:false"`
	Notes                   string                  `gorm:"column:notes"`
	CreatedAt               time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (Appointment) TableName() string {
	return "appointments"
}
