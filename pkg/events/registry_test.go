package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/verdant-events/pkg/config"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events/payloads"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewDefaultRegistry(config.PubSubConfig{
		SchedulingTopic:   "scheduling",
		WeatherTopic:      "weather",
		UserTopic:         "user",
		NotificationTopic: "notification",
	})
	require.NoError(t, err)
	return reg
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	reg := testRegistry(t)

	payload := &payloads.AppointmentCreated{
		AppointmentID: uuid.New(),
		ClientID:      uuid.New(),
		ServiceID:     23,
		ScheduledAt:   time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC),
		Postcode:      "SW1A 1AA",
	}

	encoded, err := reg.Encode(enums.EventAppointmentCreated, "scheduling", "cor-abc", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded.ID)
	assert.Equal(t, enums.EventAppointmentCreated, encoded.Type)
	assert.Equal(t, "cor-abc", encoded.CorrelationID)
	assert.False(t, encoded.OccurredAt.IsZero())

	raw, err := encoded.Marshal()
	require.NoError(t, err)

	decoded, err := reg.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, encoded.ID, decoded.ID)
	assert.Equal(t, encoded.Type, decoded.Type)
	assert.Equal(t, encoded.Source, decoded.Source)
	assert.Equal(t, encoded.CorrelationID, decoded.CorrelationID)
	assert.True(t, encoded.OccurredAt.Equal(decoded.OccurredAt))

	resolved, err := reg.Resolve(decoded)
	require.NoError(t, err)
	got, ok := resolved.Payload.(*payloads.AppointmentCreated)
	require.True(t, ok)
	assert.Equal(t, payload.AppointmentID, got.AppointmentID)
	assert.Equal(t, payload.ServiceID, got.ServiceID)
	assert.Equal(t, payload.Postcode, got.Postcode)
}

func TestEncodeUnknownType(t *testing.T) {
	reg := testRegistry(t)
	_, err := reg.Encode("billing.invoice.issued.v1", "scheduling", "", &payloads.AppointmentCreated{})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestEncodeInvalidPayload(t *testing.T) {
	reg := testRegistry(t)

	// Missing required fields.
	_, err := reg.Encode(enums.EventAppointmentCreated, "scheduling", "", &payloads.AppointmentCreated{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// Wrong payload type for the registered schema.
	_, err = reg.Encode(enums.EventAppointmentCreated, "scheduling", "", &payloads.WeatherAlertUpdated{
		AlertID:   "alert-1",
		Areas:     []string{"SW1A 1AA"},
		ValidFrom: time.Now(),
		ValidTo:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEncodeMintsCorrelationID(t *testing.T) {
	reg := testRegistry(t)
	evt, err := reg.Encode(enums.EventForecastCheckRequested, "scheduling", "", &payloads.ForecastCheckRequested{
		AppointmentID: uuid.New(),
		ScheduledAt:   time.Now().UTC(),
		Postcode:      "SW1A 1AA",
	})
	require.NoError(t, err)
	assert.Contains(t, evt.CorrelationID, "cor-")
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	reg := testRegistry(t)

	cases := map[string]string{
		"not json":          `{"id"`,
		"missing id":        `{"type":"weather.alert.updated.v1","source":"weather","occurredAt":"2025-11-02T08:00:00Z","data":{}}`,
		"missing type":      `{"id":"a","source":"weather","occurredAt":"2025-11-02T08:00:00Z","data":{}}`,
		"missing source":    `{"id":"a","type":"weather.alert.updated.v1","occurredAt":"2025-11-02T08:00:00Z","data":{}}`,
		"missing time":      `{"id":"a","type":"weather.alert.updated.v1","source":"weather","data":{}}`,
		"missing data":      `{"id":"a","type":"weather.alert.updated.v1","source":"weather","occurredAt":"2025-11-02T08:00:00Z"}`,
		"no version suffix": `{"id":"a","type":"weather.alert.updated","source":"weather","occurredAt":"2025-11-02T08:00:00Z","data":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	reg := testRegistry(t)
	raw := `{"id":"a","type":"weather.alert.updated.v9","source":"weather","occurredAt":"2025-11-02T08:00:00Z","data":{}}`
	_, err := reg.Decode([]byte(raw))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestResolveDefaultsUnknownPayloadFields(t *testing.T) {
	reg := testRegistry(t)

	// A newer minor revision added a field this consumer does not know about;
	// it must decode with defaulting, not fail.
	data, err := json.Marshal(map[string]any{
		"alert_id":         "alert-7",
		"area":             []string{"SW1A 1AA"},
		"valid_from":       "2025-11-02T08:00:00Z",
		"valid_to":         "2025-11-02T12:00:00Z",
		"new_minor_field":  "ignored",
		"another_addition": 42,
	})
	require.NoError(t, err)

	evt := &Event{
		ID:         NewID(),
		Type:       enums.EventWeatherAlertUpdated,
		Source:     "weather",
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	resolved, err := reg.Resolve(evt)
	require.NoError(t, err)
	payload := resolved.Payload.(*payloads.WeatherAlertUpdated)
	assert.Equal(t, "alert-7", payload.AlertID)
	assert.Equal(t, []string{"SW1A 1AA"}, payload.Areas)
}

func TestDuplicateRegistration(t *testing.T) {
	def := Definition{
		Type:       enums.EventWeatherAlertUpdated,
		Aggregate:  enums.AggregateWeatherAlert,
		Topic:      "weather",
		NewPayload: func() any { return &payloads.WeatherAlertUpdated{} },
	}
	_, err := NewRegistry(def, def)
	assert.True(t, errors.Is(err, ErrDuplicateRegistration))
}

func TestSplitType(t *testing.T) {
	name, major, ok := splitType("scheduling.appointment.created.v1")
	require.True(t, ok)
	assert.Equal(t, "scheduling.appointment.created", name)
	assert.Equal(t, 1, major)

	for _, bad := range []enums.EventType{"", "v1", "no.version", "trailing.v", "bad.v0"} {
		_, _, ok := splitType(bad)
		assert.False(t, ok, "expected %q to be rejected", bad)
	}
}
