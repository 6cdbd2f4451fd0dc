// Package payloads defines the typed payload schemas for every event the
// integration layer produces or consumes. Validation tags are the registered
// schema: Encode rejects payloads that fail them with ErrInvalidPayload.
package payloads

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentCreated announces a newly booked appointment.
// Type: scheduling.appointment.created.v1
type AppointmentCreated struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	ClientID      uuid.UUID `json:"client_id" validate:"required"`
	ServiceID     int64     `json:"service_id" validate:"required,gt=0"`
	ScheduledAt   time.Time `json:"scheduled_at" validate:"required"`
	Postcode      string    `json:"postcode" validate:"required"`
	Notes         string    `json:"notes,omitempty" validate:"max=1024"`
}

// WeatherAlertUpdated carries an alert window and the postcodes it covers.
// Type: weather.alert.updated.v1
type WeatherAlertUpdated struct {
	AlertID   string    `json:"alert_id" validate:"required"`
	Severity  string    `json:"severity,omitempty"`
	Areas     []string  `json:"area" validate:"required,min=1,dive,required"`
	ValidFrom time.Time `json:"valid_from" validate:"required"`
	ValidTo   time.Time `json:"valid_to" validate:"required"`
}

// TeamMemberAvailabilityChanged signals an availability flip for a member.
// Specialties travel with the event so consumers can maintain a projection
// without calling back into the user service.
// Type: user.team_member.availability.changed.v1
type TeamMemberAvailabilityChanged struct {
	MemberID    int64   `json:"member_id" validate:"required,gt=0"`
	IsAvailable bool    `json:"is_available"`
	Specialties []int64 `json:"specialties,omitempty"`
}

// NotificationDispatchRequested asks the notification service to send a
// templated message. One event covers all of a client's affected
// appointments; the dispatch itself is out of scope here.
// Type: notification.dispatch.requested.v1
type NotificationDispatchRequested struct {
	ClientID       uuid.UUID         `json:"client_id" validate:"required"`
	TemplateID     string            `json:"template_id" validate:"required"`
	AppointmentIDs []uuid.UUID       `json:"appointment_ids,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
}

// AppointmentRiskFlagged records a risk-flag transition caused by a weather
// alert. Emitted only when the flag actually changes.
// Type: scheduling.appointment.risk_flagged.v1
type AppointmentRiskFlagged struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	ClientID      uuid.UUID `json:"client_id" validate:"required"`
	AlertID       string    `json:"alert_id" validate:"required"`
	Risk          string    `json:"risk" validate:"required"`
}

// AppointmentReassigned reports the outcome of an automatic reassignment
// attempt: exactly one per affected appointment, whether or not a new
// assignee was found.
// Type: scheduling.appointment.reassigned.v1
type AppointmentReassigned struct {
	AppointmentID    uuid.UUID `json:"appointment_id" validate:"required"`
	PreviousMemberID int64     `json:"previous_member_id" validate:"required,gt=0"`
	NewMemberID      *int64    `json:"new_member_id,omitempty"`
	NeedsManual      bool      `json:"needs_manual_reassignment"`
}

// ForecastCheckRequested asks the weather service to start tracking the
// forecast for an appointment's date and location.
// Type: weather.forecast.check.requested.v1
type ForecastCheckRequested struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	ScheduledAt   time.Time `json:"scheduled_at" validate:"required"`
	Postcode      string    `json:"postcode" validate:"required"`
}
