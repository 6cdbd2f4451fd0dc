package events

import (
	"fmt"

	"github.com/verdantops/verdant-events/pkg/config"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events/payloads"
)

// NewDefaultRegistry builds the registry for every event type this core
// produces or consumes, bound to the configured topic names.
func NewDefaultRegistry(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.SchedulingTopic == "" {
		return nil, fmt.Errorf("scheduling topic is required")
	}
	if cfg.WeatherTopic == "" {
		return nil, fmt.Errorf("weather topic is required")
	}
	if cfg.UserTopic == "" {
		return nil, fmt.Errorf("user topic is required")
	}
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}

	return NewRegistry(
		Definition{
			Type:       enums.EventAppointmentCreated,
			Aggregate:  enums.AggregateAppointment,
			Topic:      cfg.SchedulingTopic,
			NewPayload: func() any { return &payloads.AppointmentCreated{} },
		},
		Definition{
			Type:       enums.EventAppointmentRiskFlagged,
			Aggregate:  enums.AggregateAppointment,
			Topic:      cfg.SchedulingTopic,
			NewPayload: func() any { return &payloads.AppointmentRiskFlagged{} },
		},
		Definition{
			Type:       enums.EventAppointmentReassigned,
			Aggregate:  enums.AggregateAppointment,
			Topic:      cfg.SchedulingTopic,
			NewPayload: func() any { return &payloads.AppointmentReassigned{} },
		},
		Definition{
			Type:       enums.EventWeatherAlertUpdated,
			Aggregate:  enums.AggregateWeatherAlert,
			Topic:      cfg.WeatherTopic,
			NewPayload: func() any { return &payloads.WeatherAlertUpdated{} },
		},
		Definition{
			Type:       enums.EventForecastCheckRequested,
			Aggregate:  enums.AggregateAppointment,
			Topic:      cfg.WeatherTopic,
			NewPayload: func() any { return &payloads.ForecastCheckRequested{} },
		},
		Definition{
			Type:       enums.EventMemberAvailability,
			Aggregate:  enums.AggregateTeamMember,
			Topic:      cfg.UserTopic,
			NewPayload: func() any { return &payloads.TeamMemberAvailabilityChanged{} },
		},
		Definition{
			Type:       enums.EventNotificationRequested,
			Aggregate:  enums.AggregateClient,
			Topic:      cfg.NotificationTopic,
			NewPayload: func() any { return &payloads.NotificationDispatchRequested{} },
		},
	)
}
