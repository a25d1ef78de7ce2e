package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned by providers when the backend answered
// successfully but the response carried no choices at all.
var ErrEmptyResponse = errors.New("llm: empty response")

// StatusError is a structured error reported by the backend itself, such as
// an exhausted quota, a rejected API key or an invalid request.
type StatusError struct {
	// Provider names the backend that produced the error (e.g. "openai").
	Provider string

	// StatusCode is the HTTP status returned by the backend. Zero when the
	// backend reported the error in-band without a status.
	StatusCode int

	// Code is the backend's machine-readable error code, if any.
	Code string

	// Message is the human-readable message returned by the backend.
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
