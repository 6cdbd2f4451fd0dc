package enums

import "fmt"

// EventType is the fully qualified, versioned event name carried on the wire,
// e.g. "scheduling.appointment.created.v1".
type EventType string

const (
	EventAppointmentCreated     EventType = "scheduling.appointment.created.v1"
	EventAppointmentRiskFlagged EventType = "scheduling.appointment.risk_flagged.v1"
	EventAppointmentReassigned  EventType = "scheduling.appointment.reassigned.v1"
	EventWeatherAlertUpdated    EventType = "weather.alert.updated.v1"
	EventForecastCheckRequested EventType = "weather.forecast.check.requested.v1"
	EventMemberAvailability     EventType = "user.team_member.availability.changed.v1"
	EventNotificationRequested  EventType = "notification.dispatch.requested.v1"
)

var validEventTypes = []EventType{
	EventAppointmentCreated,
	EventAppointmentRiskFlagged,
	EventAppointmentReassigned,
	EventWeatherAlertUpdated,
	EventForecastCheckRequested,
	EventMemberAvailability,
	EventNotificationRequested,
}

// IsValid reports whether the value is one of the registered event types.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
