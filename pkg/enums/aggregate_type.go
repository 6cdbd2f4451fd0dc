package enums

import "fmt"

// AggregateType names the source entity an event describes. Outbox ordering
// is guaranteed per (aggregate_type, aggregate_id), never globally.
type AggregateType string

const (
	AggregateAppointment  AggregateType = "appointment"
	AggregateTeamMember   AggregateType = "team_member"
	AggregateWeatherAlert AggregateType = "weather_alert"
	AggregateClient       AggregateType = "client"
)

var validAggregateTypes = []AggregateType{
	AggregateAppointment,
	AggregateTeamMember,
	AggregateWeatherAlert,
	AggregateClient,
}

// IsValid reports whether the value matches a known aggregate type.
func (a AggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAggregateType converts raw input into AggregateType.
func ParseAggregateType(value string) (AggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}
