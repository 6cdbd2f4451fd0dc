package enums

import "fmt"

// AppointmentStatus mirrors the scheduling service's lifecycle states.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
)

var validAppointmentStatuses = []AppointmentStatus{
	AppointmentScheduled,
	AppointmentInProgress,
	AppointmentCompleted,
	AppointmentCancelled,
}

// IsValid reports whether the value is a known appointment status.
func (s AppointmentStatus) IsValid() bool {
	for _, candidate := range validAppointmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAppointmentStatus converts raw input into AppointmentStatus.
func ParseAppointmentStatus(value string) (AppointmentStatus, error) {
	for _, candidate := range validAppointmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid appointment status %q", value)
}

// WeatherRisk is the alert-driven risk flag on an appointment. Flags move to
// at_risk when an alert window covers the appointment; they are never cleared
// by the impact scan (clearing is a separate explicit event).
type WeatherRisk string

const (
	WeatherRiskUnknown WeatherRisk = "unknown"
	WeatherRiskLow     WeatherRisk = "low"
	WeatherRiskAtRisk  WeatherRisk = "at_risk"
)
