package session

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/transcript"
)

// NewID returns a fresh, lexically sortable session id.
func NewID() string {
	return ulid.Make().String()
}

// Status is the lifecycle state of a session.
type Status int

const (
	StatusInactive Status = iota
	StatusConnecting
	StatusActive
	StatusFinished
)

// String returns the upper-case status name.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusConnecting:
		return "CONNECTING"
	case StatusActive:
		return "ACTIVE"
	case StatusFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// live reports whether a connection is being opened or is open.
func (s Status) live() bool { return s == StatusConnecting || s == StatusActive }

// Placeholders used when the identity provider supplied nothing.
const (
	DefaultDisplayName = "Student"
	DefaultAvatarURL   = "/static/avatar-placeholder.png"
)

// Participant is the student as reported by the identity provider.
type Participant struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// withDefaults fills in placeholders.
func (p Participant) withDefaults() Participant {
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	if p.AvatarURL == "" {
		p.AvatarURL = DefaultAvatarURL
	}
	return p
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID          string             `json:"id"`
	Status      Status             `json:"status"`
	Generation  uint64             `json:"generation"`
	Muted       bool               `json:"muted"`
	Speaking    bool               `json:"speaking"`
	Persona     assistant.Persona  `json:"persona"`
	Participant Participant        `json:"participant"`
	Transcript  []transcript.Entry `json:"transcript"`
	LastError   string             `json:"last_error,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
}
