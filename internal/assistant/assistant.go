// Package assistant builds the live session configuration for a tutoring
// persona.
//
// Everything here is pure: the same inputs always give the same
// [live.AssistantConfig], nothing touches the network and a [Builder] can be
// shared between sessions.
package assistant

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

var (
	// ErrMissingVoice is returned by Build when the persona has no voice.
	ErrMissingVoice = errors.New("assistant: missing voice")

	// ErrMissingStyle is returned by Build when the persona has no style.
	ErrMissingStyle = errors.New("assistant: missing style")
)

// Defaults applied when the builder is not configured otherwise.
const (
	DefaultName         = "Companion"
	DefaultExcerptRunes = 1000
)

// Persona is the tutor a student configured.
type Persona struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
	Voice   string `json:"voice"`
	Style   string `json:"style"`
}

// Validate reports ErrMissingVoice or ErrMissingStyle.
func (p Persona) Validate() error {
	switch {
	case p.Voice == "":
		return ErrMissingVoice
	case p.Style == "":
		return ErrMissingStyle
	}
	return nil
}

// LessonTitle is what the greeting calls the lesson: the companion's name,
// or its topic when the companion is unnamed.
func (p Persona) LessonTitle() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Topic
}

// Input is everything one Build call needs.
type Input struct {
	Persona Persona

	// StudentName is the participant's display name used in the greeting.
	StudentName string

	// Document is seeded as a context message when non-empty.
	Document string
}

// Builder turns an [Input] into a [live.AssistantConfig]. The voice catalogue
// may be swapped at runtime with SetCatalogue; every other field is fixed at
// construction.
type Builder struct {
	name        string
	transcriber live.TranscriberConfig
	model       live.ModelConfig

	mu        sync.RWMutex
	catalogue Catalogue
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithName overrides the assistant name.
func WithName(name string) BuilderOption {
	return func(b *Builder) { b.name = name }
}

// WithTranscriber overrides the transcriber configuration.
func WithTranscriber(t live.TranscriberConfig) BuilderOption {
	return func(b *Builder) { b.transcriber = t }
}

// WithModel overrides the model configuration.
func WithModel(m live.ModelConfig) BuilderOption {
	return func(b *Builder) { b.model = m }
}

// NewBuilder creates a Builder resolving voices through cat.
func NewBuilder(cat Catalogue, opts ...BuilderOption) *Builder {
	b := &Builder{
		name:        DefaultName,
		transcriber: live.TranscriberConfig{Provider: "deepgram", Model: "nova-3", Language: "en"},
		model:       live.ModelConfig{Provider: "openai", Model: "gpt-4"},
		catalogue:   cat,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetCatalogue replaces the voice catalogue for subsequent builds.
func (b *Builder) SetCatalogue(cat Catalogue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogue = cat
}

// Catalogue returns the voice catalogue in use.
func (b *Builder) Catalogue() Catalogue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.catalogue
}

// Build returns the configuration for in. The first message is the greeting;
// callers replace it when a restart should open differently.
func (b *Builder) Build(in Input) (live.AssistantConfig, error) {
	p := in.Persona
	if err := p.Validate(); err != nil {
		return live.AssistantConfig{}, err
	}

	cfg := live.AssistantConfig{
		Name:         b.name,
		SystemPrompt: SystemPrompt(p.Style),
		FirstMessage: Greeting(in.StudentName, p.LessonTitle()),
		Voice:        b.Catalogue().Resolve(p.Voice, p.Style),
		Transcriber:  b.transcriber,
		Model:        b.model,
		Variables: map[string]string{
			"subject": orDefault(p.Subject, "General"),
			"topic":   orDefault(p.Topic, "Topic"),
			"style":   orDefault(p.Style, "Default"),
		},
	}
	if in.Document != "" {
		cfg.ContextMessages = []live.ContextMessage{{Role: live.RoleUser, Content: in.Document}}
	}
	return cfg, nil
}

// Excerpt returns at most n runes from the start of doc.
func Excerpt(doc string, n int) string {
	if n <= 0 || utf8.RuneCountInString(doc) <= n {
		return doc
	}
	i := 0
	for pos := range doc {
		if i == n {
			return doc[:pos]
		}
		i++
	}
	return doc
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ── Prompts ──────────────────────────────────────────────────────────────────

// SystemPrompt is the standing instruction for the live backend.
func SystemPrompt(style string) string {
	return fmt.Sprintf(`You are a highly knowledgeable, friendly voice tutor in a real-time session with a student.

Instructions:
- If the student wants help with the uploaded note, summarize or quiz them.
- If the student asks general questions (even unrelated to the note), do your best to answer helpfully.
- Do not restrict yourself to just the uploaded content.
- Use a style that matches: %s. Keep answers short unless a long answer is needed.
- Let the student guide the session. Always be ready to switch between note explanation and free Q&A.`, style)
}

// Greeting is the assistant's opening line.
func Greeting(studentName, lesson string) string {
	if studentName == "" {
		return fmt.Sprintf("Hello! Welcome to this teaching lesson on \"%s\". Would you like me to *read the note* or *ask you questions* based on it?", lesson)
	}
	return fmt.Sprintf("Hello %s! Welcome to this teaching lesson on \"%s\". Would you like me to *read the note* or *ask you questions* based on it?", studentName, lesson)
}

// StartPrompt asks for the opening tutoring reply on a full start.
func StartPrompt(doc string) string {
	return "I have uploaded a document. Based on this content:\n\n" + doc + "\n\nTeach or summarize it like you're tutoring me."
}

// ReadPrompt asks for a summary or lesson on doc.
func ReadPrompt(doc string) string {
	return "Please summarize or teach the following content:\n\n" + doc
}

// QuizPrompt asks for one-at-a-time quiz questions on doc.
func QuizPrompt(doc string) string {
	return "Based on this note:\n\n" + doc + "\n\nAsk me interactive quiz-style questions one at a time."
}
