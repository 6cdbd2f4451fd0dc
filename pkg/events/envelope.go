package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/verdant-events/pkg/enums"
)

// Event is the canonical envelope carried on the wire. IDs are UUIDv7 so
// they sort by creation time; Type carries the major version as a ".vN"
// suffix; Data is the type-specific payload.
type Event struct {
	ID            string          `json:"id"`
	Type          enums.EventType `json:"type"`
	Source        string          `json:"source"`
	OccurredAt    time.Time       `json:"occurredAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// Marshal serializes the envelope in its canonical JSON form.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// NewID returns a time-ordered unique event id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source is broken; fall back to v4
		// rather than refusing to emit.
		return uuid.NewString()
	}
	return id.String()
}

// Attributes returns the broker message attributes for the envelope so
// consumers can route and dedupe without unmarshalling the body.
func Attributes(e *Event) map[string]string {
	if e == nil {
		return nil
	}
	attrs := map[string]string{
		"event_id":   e.ID,
		"event_type": string(e.Type),
		"source":     e.Source,
	}
	if e.CorrelationID != "" {
		attrs["correlation_id"] = e.CorrelationID
	}
	return attrs
}

// NewCorrelationID mints an opaque tracing token for chains that start here.
func NewCorrelationID() string {
	return "cor-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// splitType separates "scheduling.appointment.created.v1" into its name and
// major version.
func splitType(t enums.EventType) (name string, major int, ok bool) {
	raw := string(t)
	idx := strings.LastIndex(raw, ".v")
	if idx <= 0 || idx+2 >= len(raw) {
		return "", 0, false
	}
	name = raw[:idx]
	version, err := strconv.Atoi(raw[idx+2:])
	if err != nil || version < 1 || name == "" {
		return "", 0, false
	}
	return name, version, true
}
