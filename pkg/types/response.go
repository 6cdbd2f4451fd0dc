// Package types holds the JSON envelopes shared by the ops HTTP surface.
package types

// SuccessEnvelope wraps every 2xx body from the health and DLQ endpoints.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error shape. Details carries structured
// context such as per-dependency readiness status.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
