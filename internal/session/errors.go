package session

import "errors"

// User-facing messages reported through notifications and API errors.
const (
	MsgMissingPersona      = "Missing assistant voice or style configuration."
	MsgMissingDocument     = "Please upload and wait for the document to be processed before starting."
	MsgMissingQuestion     = "Please ask a question before starting."
	MsgCompletionFailed    = "Assistant could not generate a valid reply."
	MsgStartFailed         = "An error occurred while starting the session."
	MsgInsufficientBalance = "Your wallet balance is too low. Please top up or upgrade your plan."
)

// DefaultFallbackReply is interjected when a free-form question could not be
// answered.
const DefaultFallbackReply = "Could you please rephrase your question?"

var (
	// ErrSessionBusy is returned when an operation needs the session to be
	// idle but it is CONNECTING or ACTIVE.
	ErrSessionBusy = errors.New("session: busy")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current status, e.g. Start on a FINISHED session.
	ErrInvalidState = errors.New("session: operation not allowed in current state")

	// ErrStartTimeout is reported when the live backend did not confirm the
	// call in time.
	ErrStartTimeout = errors.New("session: start timed out")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// ValidationError is a user-correctable problem detected before any state
// change. Its message is shown to the student verbatim.
type ValidationError struct {
	Message string
}

// Error implements error.
func (e *ValidationError) Error() string { return e.Message }
