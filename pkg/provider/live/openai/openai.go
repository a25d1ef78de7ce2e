// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It keeps one WebSocket per session and exchanges JSON events according to
// the Realtime protocol. Audio travels as base64-encoded PCM16 chunks. The
// student's speech is transcribed server side and surfaced as transcript
// events, as is the assistant's own spoken output.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Conn = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// defaultTranscriptionModel is used when the configured transcriber is not
	// one the Realtime API can run itself.
	defaultTranscriptionModel = "whisper-1"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		MaxSessionDuration: 30 * time.Minute,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint, configures the session from cfg, seeds
// the context messages and, if set, asks the model to speak the first message.
func (p *Provider) Connect(ctx context.Context, cfg live.AssistantConfig) (live.Conn, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		audioCh: make(chan []byte, 64),
		events:  make(chan live.Event, 32),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.configure(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return nil, fmt.Errorf("openai: session setup: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string                `json:"voice,omitempty"`
	Instructions            string                `json:"instructions,omitempty"`
	InputAudioFormat        string                `json:"input_audio_format"`
	OutputAudioFormat       string                `json:"output_audio_format"`
	InputAudioTranscription *transcriptionOptions `json:"input_audio_transcription,omitempty"`
}

type transcriptionOptions struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responseCreateMessage struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	audioCh chan []byte
	events  chan live.Event

	mu        sync.Mutex
	closed    bool
	muted     bool
	started   bool
	speaking  bool
	userText  string
	assistTxt string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// configure sends the session.update, the seeded context and the opening turn.
func (s *session) configure(cfg live.AssistantConfig) error {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Render(cfg.SystemPrompt),
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &transcriptionOptions{
			Model:    defaultTranscriptionModel,
			Language: cfg.Transcriber.Language,
		},
	}
	if cfg.Transcriber.Provider == "openai" && cfg.Transcriber.Model != "" {
		params.InputAudioTranscription.Model = cfg.Transcriber.Model
	}
	if err := s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		return err
	}

	for _, m := range cfg.ContextMessages {
		if err := s.writeJSON(contextItem(m)); err != nil {
			return err
		}
	}

	if first := cfg.Render(cfg.FirstMessage); first != "" {
		return s.say(first)
	}
	return nil
}

// contextItem converts a seeded message into a conversation.item.create event.
// The Realtime API only knows user, assistant and system items; anything else
// is sent as user input.
func contextItem(m live.ContextMessage) createConversationItemMessage {
	role := m.Role
	switch role {
	case live.RoleAssistant, live.RoleSystem:
	default:
		role = live.RoleUser
	}
	partType := "input_text"
	if role == live.RoleAssistant {
		partType = "text"
	}
	return createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []conversationPart{{Type: partType, Text: m.Content}},
		},
	}
}

func (s *session) say(text string) error {
	return s.writeJSON(responseCreateMessage{
		Type: "response.create",
		Response: responseParams{
			Instructions: "Say the following to the student, word for word, then wait for them to respond:\n\n" + text,
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns audioCh and events: it closes both when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.emit(live.Event{Type: live.EventError, Err: &live.Error{Message: err.Error()}})
			}
			s.emit(live.Event{Type: live.EventCallEnd})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.created", "session.updated":
		s.mu.Lock()
		first := !s.started
		s.started = true
		s.mu.Unlock()
		if first {
			s.emit(live.Event{Type: live.EventCallStart})
		}

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.mu.Lock()
		first := !s.speaking
		s.speaking = true
		s.mu.Unlock()
		if first {
			s.emit(live.Event{Type: live.EventSpeechStart})
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "response.audio.done":
		s.mu.Lock()
		was := s.speaking
		s.speaking = false
		s.mu.Unlock()
		if was {
			s.emit(live.Event{Type: live.EventSpeechEnd})
		}

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.assistTxt += evt.Delta
		text := s.assistTxt
		s.mu.Unlock()
		s.emit(live.Event{Type: live.EventTranscript, Role: live.RoleAssistant, Text: text})

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.assistTxt
		s.assistTxt = ""
		s.mu.Unlock()
		if evt.Transcript != "" {
			text = evt.Transcript
		}
		if text == "" {
			return
		}
		s.emit(live.Event{Type: live.EventTranscript, Role: live.RoleAssistant, Text: text, Final: true})

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.userText += evt.Delta
		text := s.userText
		s.mu.Unlock()
		s.emit(live.Event{Type: live.EventTranscript, Role: live.RoleUser, Text: text})

	case "conversation.item.input_audio_transcription.completed":
		s.mu.Lock()
		s.userText = ""
		s.mu.Unlock()
		if evt.Transcript == "" {
			return
		}
		s.emit(live.Event{Type: live.EventTranscript, Role: live.RoleUser, Text: evt.Transcript, Final: true})

	case "error":
		e := &live.Error{Message: "unknown error"}
		if evt.Error != nil {
			e.Code = evt.Error.Code
			if evt.Error.Message != "" {
				e.Message = evt.Error.Message
			}
		}
		s.emit(live.Event{Type: live.EventError, Err: e})
	}
}

// emit delivers ev unless the session has been closed locally.
func (s *session) emit(ev live.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.events)
	})
}

// ── live.Conn methods ─────────────────────────────────────────────────────────

// Events returns the session's event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Audio returns the channel on which the model's synthesised audio arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// SendAudio delivers a raw PCM16 audio chunk to the model.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed, muted := s.closed, s.muted
	s.mu.Unlock()
	if closed {
		return errors.New("openai: session closed")
	}
	if muted {
		return nil
	}

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Say asks the model to speak text as its next response.
func (s *session) Say(text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("openai: session closed")
	}
	return s.say(text)
}

// SetMuted gates the student's audio locally.
func (s *session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// IsMuted reports the local microphone gate.
func (s *session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
