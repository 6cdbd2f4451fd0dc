package events

import "errors"

var (
	// ErrUnknownEventType is returned by Encode when the type was never
	// registered.
	ErrUnknownEventType = errors.New("event type not registered")

	// ErrInvalidPayload is returned when a payload does not match the schema
	// registered for its exact versioned type.
	ErrInvalidPayload = errors.New("payload does not match registered schema")

	// ErrMalformedEnvelope is returned by Decode when required envelope
	// fields are missing or the JSON cannot be parsed.
	ErrMalformedEnvelope = errors.New("malformed event envelope")

	// ErrUnsupportedVersion is returned by Decode when the type's major
	// version has no registered decoder. Unknown minor/patch payload
	// evolution decodes with defaulting and does not trigger this.
	ErrUnsupportedVersion = errors.New("unsupported event version")

	// ErrDuplicateRegistration is returned when two schemas are registered
	// under the same (name, major version) pair.
	ErrDuplicateRegistration = errors.New("event type already registered")
)
