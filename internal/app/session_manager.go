package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/tutorcall/internal/api"
	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/config"
	"github.com/MrWong99/tutorcall/internal/document"
	livecall "github.com/MrWong99/tutorcall/internal/engine/live"
	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/internal/observe"
	"github.com/MrWong99/tutorcall/internal/session"
	"github.com/MrWong99/tutorcall/pkg/provider/live"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

var _ api.Sessions = (*SessionManager)(nil)

// Settings are the hot-reloadable parts of session construction. They apply
// to sessions created after [SessionManager.Update].
type Settings struct {
	Builder   *assistant.Builder
	Completer completion.Completer
	Session   config.SessionConfig
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Live        live.Provider
	Documents   document.Store
	Recorder    history.Recorder
	Metrics     *observe.Metrics
	CallOptions []livecall.Option
	Settings    Settings

	// NewID defaults to [session.NewID].
	NewID func() string
}

// SessionManager owns every tutoring session of the process, keyed by id.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	live     live.Provider
	docs     document.Store
	recorder history.Recorder
	metrics  *observe.Metrics
	callOpts []livecall.Option
	newID    func() string

	mu       sync.Mutex
	settings Settings
	sessions map[string]*session.Session
	closed   bool
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := &SessionManager{
		live:     cfg.Live,
		docs:     cfg.Documents,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		callOpts: cfg.CallOptions,
		newID:    cfg.NewID,
		settings: cfg.Settings,
		sessions: make(map[string]*session.Session),
	}
	if m.newID == nil {
		m.newID = session.NewID
	}
	return m
}

// Create registers a new INACTIVE session. The persona is validated when the
// session starts, not here.
func (m *SessionManager) Create(ctx context.Context, persona assistant.Persona, participant session.Participant) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, session.ErrClosed
	}

	st := m.settings
	s, err := session.New(session.Config{
		ID:                m.newID(),
		Persona:           persona,
		Participant:       participant,
		Builder:           st.Builder,
		Completer:         st.Completer,
		Live:              m.live,
		Documents:         m.docs,
		Recorder:          m.recorder,
		Metrics:           m.metrics,
		StartTimeout:      st.Session.StartTimeout,
		CompletionTimeout: st.Session.CompletionTimeout,
		ExcerptRunes:      st.Session.ExcerptChars,
		FallbackReply:     st.Session.FallbackReply,
		CallOptions:       m.callOpts,
	})
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s
	slog.Info("session created", "session_id", s.ID(), "companion", persona.Name, "sessions", len(m.sessions))
	return s, nil
}

// Get returns the session with id.
func (m *SessionManager) Get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete closes the session and drops its stored note.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return api.ErrSessionNotFound
	}

	err := s.Close()
	if derr := m.docs.Delete(context.Background(), id); derr != nil {
		slog.Warn("failed to drop session document", "session_id", id, "err", derr)
	}
	slog.Info("session deleted", "session_id", id)
	return err
}

// Len returns the number of registered sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Update replaces the settings used for new sessions.
func (m *SessionManager) Update(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// Settings returns the settings used for new sessions.
func (m *SessionManager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Complete implements completion.Completer with the current settings, so the
// chat endpoint follows hot reloads too.
func (m *SessionManager) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	return m.Settings().Completer.Complete(ctx, msgs)
}

// CloseAll closes every session and refuses new ones.
func (m *SessionManager) CloseAll() error {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range all {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
			slog.Warn("session close error", "session_id", id, "err", err)
		}
	}
	return errors.Join(errs...)
}
