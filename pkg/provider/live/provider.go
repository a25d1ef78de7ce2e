// Package live defines the Provider interface for live speech sessions.
//
// A live provider wraps a real-time voice backend that listens to the student,
// transcribes them, talks back with a synthesised voice and reports what
// happened as a stream of [Event] values. tutorcall never sees the backend's
// internal turn-taking; it only reacts to the events and injects text via
// [Conn.Say] or restarts the whole session with a new [AssistantConfig].
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"strings"
	"time"
)

// Speaker roles used in transcripts and seeded context messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextMessage is a role-tagged message seeded into the backend's
// conversation before the first spoken turn.
type ContextMessage struct {
	Role    string
	Content string
}

// TranscriberConfig selects the speech-to-text engine the backend uses for the
// student's audio.
type TranscriberConfig struct {
	Provider string
	Model    string
	Language string
}

// ModelConfig selects the language model that drives the assistant's turns.
// Backends with a fixed model may ignore it.
type ModelConfig struct {
	Provider string
	Model    string
}

// AssistantConfig is the full configuration a live session is started with.
// It is rebuilt on every start or restart and never mutated afterwards.
type AssistantConfig struct {
	// Name is the assistant's display name.
	Name string

	// SystemPrompt is the standing instruction for the backend model.
	SystemPrompt string

	// FirstMessage is spoken by the assistant as soon as the call starts.
	// Empty means the assistant waits for the student.
	FirstMessage string

	// ContextMessages are seeded into the conversation before FirstMessage.
	ContextMessages []ContextMessage

	// Voice is the backend-specific voice id.
	Voice string

	Transcriber TranscriberConfig
	Model       ModelConfig

	// Variables are substituted into SystemPrompt and FirstMessage wherever
	// {{name}} appears. See [AssistantConfig.Render].
	Variables map[string]string
}

// Render returns s with every {{key}} placeholder replaced by the matching
// entry of Variables. Unknown placeholders are left untouched.
func (c AssistantConfig) Render(s string) string {
	if len(c.Variables) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, 2*len(c.Variables))
	for k, v := range c.Variables {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// MaxSessionDuration is the backend's hard limit on a single call.
	// Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice ids the backend accepts.
	Voices []string
}

// Conn is one open live session.
//
// Events is closed after the session has ended; when the remote side ends the
// call an [EventCallEnd] is delivered before the close. A local Close does not
// emit EventCallEnd.
type Conn interface {
	// Events returns the ordered stream of session events.
	Events() <-chan Event

	// SendAudio forwards a raw PCM16 chunk from the student. While muted the
	// chunk is dropped and nil is returned.
	SendAudio(chunk []byte) error

	// Audio returns synthesised assistant audio as raw PCM16 chunks. It is
	// closed together with Events.
	Audio() <-chan []byte

	// Say makes the assistant speak text as its next turn.
	Say(text string) error

	// SetMuted enables or disables the student's microphone for this session.
	SetMuted(muted bool)

	// IsMuted reports the current microphone state.
	IsMuted() bool

	// Close ends the session and releases all resources. Idempotent.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect starts a new session configured by cfg. The caller owns the
	// returned Conn and must Close it.
	Connect(ctx context.Context, cfg AssistantConfig) (Conn, error)

	// Capabilities returns static metadata about the backend.
	Capabilities() Capabilities
}
