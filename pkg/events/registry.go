package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/verdantops/verdant-events/pkg/enums"
)

// Definition binds a versioned event type to its aggregate, producing topic
// and payload schema.
type Definition struct {
	Type       enums.EventType
	Aggregate  enums.AggregateType
	Topic      string
	NewPayload func() any
}

type typeKey struct {
	name  string
	major int
}

// Registry is the single source of truth for event schemas. It is built once
// at the composition root and immutable afterwards; encoder and decoder
// instances receive it explicitly rather than via package-level state.
type Registry struct {
	validate *validator.Validate
	entries  map[typeKey]Definition
}

// Resolved pairs a decoded envelope with its definition and typed payload.
type Resolved struct {
	Definition Definition
	Payload    any
}

// NewRegistry builds an immutable registry from the full definition list.
// A duplicate (name, major version) pair fails with ErrDuplicateRegistration.
func NewRegistry(defs ...Definition) (*Registry, error) {
	reg := &Registry{
		validate: validator.New(),
		entries:  make(map[typeKey]Definition, len(defs)),
	}
	for _, def := range defs {
		if def.NewPayload == nil {
			return nil, fmt.Errorf("definition %s: payload factory is required", def.Type)
		}
		name, major, ok := splitType(def.Type)
		if !ok {
			return nil, fmt.Errorf("definition %s: type must end in .v<major>", def.Type)
		}
		key := typeKey{name: name, major: major}
		if _, exists := reg.entries[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRegistration, def.Type)
		}
		reg.entries[key] = def
	}
	return reg, nil
}

// Definition returns the registered definition for the versioned type.
func (r *Registry) Definition(eventType enums.EventType) (Definition, bool) {
	name, major, ok := splitType(eventType)
	if !ok {
		return Definition{}, false
	}
	def, ok := r.entries[typeKey{name: name, major: major}]
	return def, ok
}

// Encode validates the payload against the registered schema and wraps it in
// a fresh envelope.
func (r *Registry) Encode(eventType enums.EventType, source, correlationID string, payload any) (*Event, error) {
	def, ok := r.Definition(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload for %s", ErrInvalidPayload, eventType)
	}
	if want, got := payloadType(def.NewPayload()), payloadType(payload); want != got {
		return nil, fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidPayload, eventType, want, got)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return &Event{
		ID:            NewID(),
		Type:          def.Type,
		Source:        source,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          data,
	}, nil
}

// Decode parses raw bytes into an envelope. Missing required fields fail with
// ErrMalformedEnvelope; a major version with no registered decoder fails with
// ErrUnsupportedVersion.
func (r *Registry) Decode(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch {
	case evt.ID == "":
		return nil, fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	case evt.Type == "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	case evt.Source == "":
		return nil, fmt.Errorf("%w: missing source", ErrMalformedEnvelope)
	case evt.OccurredAt.IsZero():
		return nil, fmt.Errorf("%w: missing occurredAt", ErrMalformedEnvelope)
	case len(evt.Data) == 0:
		return nil, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	name, major, ok := splitType(evt.Type)
	if !ok {
		return nil, fmt.Errorf("%w: type %q has no version suffix", ErrMalformedEnvelope, evt.Type)
	}
	if _, registered := r.entries[typeKey{name: name, major: major}]; !registered {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, evt.Type)
	}
	evt.OccurredAt = evt.OccurredAt.UTC()
	return &evt, nil
}

// Resolve decodes the envelope's payload into its registered schema type.
// Unknown payload fields are ignored, which is how minor/patch evolution
// decodes with defaulting.
func (r *Registry) Resolve(evt *Event) (*Resolved, error) {
	def, ok := r.Definition(evt.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, evt.Type)
	}
	payload := def.NewPayload()
	if err := json.Unmarshal(evt.Data, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, evt.Type, err)
	}
	return &Resolved{Definition: def, Payload: payload}, nil
}

func payloadType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
