package live

import (
	"errors"
	"fmt"
	"strings"
)

// EventType identifies the kind of a live session [Event].
type EventType int

const (
	// EventCallStart is delivered once the backend has accepted the session.
	EventCallStart EventType = iota + 1
	// EventCallEnd is delivered when the remote side ended the session.
	EventCallEnd
	// EventTranscript carries a partial or final transcript.
	EventTranscript
	// EventSpeechStart is delivered when the assistant starts speaking.
	EventSpeechStart
	// EventSpeechEnd is delivered when the assistant stops speaking.
	EventSpeechEnd
	// EventError carries a backend error. The session may still be usable.
	EventError
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventCallStart:
		return "call-start"
	case EventCallEnd:
		return "call-end"
	case EventTranscript:
		return "transcript"
	case EventSpeechStart:
		return "speech-start"
	case EventSpeechEnd:
		return "speech-end"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a single notification from a live session.
type Event struct {
	Type EventType

	// Role is [RoleUser] or [RoleAssistant] for transcript events.
	Role string

	// Text is the transcript text.
	Text string

	// Final is true when Text is the settled transcript of a whole turn.
	Final bool

	// Err is set for EventError.
	Err error
}

// ErrInsufficientBalance matches any backend error that reports the account
// ran out of credit.
var ErrInsufficientBalance = errors.New("live: insufficient balance")

// Error is a structured error reported by the live backend.
type Error struct {
	Code    string
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("live: %s: %s", e.Code, e.Message)
	}
	return "live: " + e.Message
}

// InsufficientBalance reports whether the backend refused service because the
// account has no credit left.
func (e *Error) InsufficientBalance() bool {
	switch e.Code {
	case "insufficient_quota", "insufficient_balance":
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "wallet balance")
}

// Is lets errors.Is(err, ErrInsufficientBalance) match balance errors.
func (e *Error) Is(target error) bool {
	return target == ErrInsufficientBalance && e.InsufficientBalance()
}
