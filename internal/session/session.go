// Package session implements the tutoring session state machine.
//
// A [Session] owns one live call and one transcript. It moves through
// INACTIVE → CONNECTING → ACTIVE → FINISHED, routes every final student
// utterance by intent and either restarts the live call with a new opening
// (read the note, quiz on the note) or interjects a completion reply
// (anything else).
//
// Live events are consumed by a single goroutine per session, so transcript
// entries appear in the order the backend finalised them. Completions run on
// their own goroutines and are tagged with the generation they were issued
// under; a result whose generation is no longer current is dropped. The
// generation advances on every restart, disconnect, failure and reset.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/document"
	livecall "github.com/MrWong99/tutorcall/internal/engine/live"
	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/internal/observe"
	"github.com/MrWong99/tutorcall/internal/transcript"
	"github.com/MrWong99/tutorcall/pkg/provider/live"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

// Default timing parameters.
const (
	DefaultStartTimeout      = 20 * time.Second
	DefaultCompletionTimeout = 30 * time.Second

	recordTimeout = 10 * time.Second
)

// Config holds everything needed to create a [Session].
type Config struct {
	// ID identifies the session. Required.
	ID string

	// Persona is the tutor the student configured. It is validated by Start
	// and QuickStart, not by New.
	Persona assistant.Persona

	// Participant is the student. Empty fields get placeholders.
	Participant Participant

	// Builder renders assistant configurations. Required.
	Builder *assistant.Builder

	// Completer answers prompts. Required.
	Completer completion.Completer

	// Live opens live speech connections. Required.
	Live live.Provider

	// Documents holds the uploaded note. Required.
	Documents document.Store

	// Recorder receives one record per completed call. May be nil.
	Recorder history.Recorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// StartTimeout bounds CONNECTING. Defaults to 20s.
	StartTimeout time.Duration

	// CompletionTimeout bounds each completion. Defaults to 30s.
	CompletionTimeout time.Duration

	// ExcerptRunes is how much of the note seeds a restarted call. Defaults
	// to [assistant.DefaultExcerptRunes].
	ExcerptRunes int

	// FallbackReply is interjected when a free-form question fails.
	// Defaults to [DefaultFallbackReply].
	FallbackReply string

	// CallOptions configure the underlying live call.
	CallOptions []livecall.Option
}

// Session is one student's tutoring session. All methods are safe for
// concurrent use.
type Session struct {
	id          string
	persona     assistant.Persona
	participant Participant

	builder   *assistant.Builder
	completer completion.Completer
	call      *livecall.Call
	docs      document.Store
	recorder  history.Recorder
	metrics   *observe.Metrics

	startTimeout      time.Duration
	completionTimeout time.Duration
	excerptRunes      int
	fallbackReply     string

	mu          sync.Mutex
	status      Status
	gen         uint64
	genCtx      context.Context
	genCancel   context.CancelFunc
	muted       bool
	speaking    bool
	log         *transcript.Log
	doc         string
	lastError   string
	connectAt   time.Time
	startedAt   time.Time
	startTimer  *time.Timer
	pendingEcho []string
	recorded    bool
	closed      bool

	subsMu     sync.Mutex
	subs       map[int]*subscriber
	nextSub    int
	subsClosed bool

	ctx       context.Context
	cancel    context.CancelFunc
	actions   chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an INACTIVE session and starts its event loop.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if cfg.Builder == nil {
		errs = append(errs, errors.New("builder is required"))
	}
	if cfg.Completer == nil {
		errs = append(errs, errors.New("completer is required"))
	}
	if cfg.Live == nil {
		errs = append(errs, errors.New("live provider is required"))
	}
	if cfg.Documents == nil {
		errs = append(errs, errors.New("document store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.ExcerptRunes <= 0 {
		cfg.ExcerptRunes = assistant.DefaultExcerptRunes
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:                cfg.ID,
		persona:           cfg.Persona,
		participant:       cfg.Participant.withDefaults(),
		builder:           cfg.Builder,
		completer:         cfg.Completer,
		call:              livecall.New(cfg.Live, cfg.CallOptions...),
		docs:              cfg.Documents,
		recorder:          cfg.Recorder,
		metrics:           cfg.Metrics,
		startTimeout:      cfg.StartTimeout,
		completionTimeout: cfg.CompletionTimeout,
		excerptRunes:      cfg.ExcerptRunes,
		fallbackReply:     cfg.FallbackReply,
		status:            StatusInactive,
		log:               transcript.NewLog(),
		subs:              make(map[int]*subscriber),
		ctx:               ctx,
		cancel:            cancel,
		actions:           make(chan func()),
		done:              make(chan struct{}),
	}
	s.mu.Lock()
	s.bumpLocked()
	s.mu.Unlock()

	s.wg.Go(s.run)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Persona returns the persona the session was created with.
func (s *Session) Persona() assistant.Persona { return s.persona }

// Participant returns the student with placeholders applied.
func (s *Session) Participant() Participant { return s.participant }

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		Status:      s.status,
		Generation:  s.gen,
		Muted:       s.muted,
		Speaking:    s.speaking,
		Persona:     s.persona,
		Participant: s.participant,
		Transcript:  s.log.Snapshot(),
		LastError:   s.lastError,
		StartedAt:   s.startedAt,
	}
}

// ── Document ─────────────────────────────────────────────────────────────────

// SetDocument replaces the uploaded note. It is rejected with ErrSessionBusy
// while the session is CONNECTING or ACTIVE.
func (s *Session) SetDocument(ctx context.Context, text string) error {
	s.mu.Lock()
	closed, busy := s.closed, s.status.live()
	s.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case busy:
		return ErrSessionBusy
	}
	if err := s.docs.Put(ctx, s.id, text); err != nil {
		return fmt.Errorf("session: store document: %w", err)
	}
	slog.Info("session: document stored", "session_id", s.id, "chars", len(text))
	return nil
}

// Document returns the stored note, or "" if none was uploaded.
func (s *Session) Document(ctx context.Context) (string, error) {
	doc, err := s.docs.Get(ctx, s.id)
	if err != nil {
		return "", fmt.Errorf("session: load document: %w", err)
	}
	return doc, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Start begins a full session: the note is required, the opening line is the
// greeting followed by a completion reply to the start prompt.
//
// Start returns once the session is CONNECTING. Failures after that point
// move the session to FINISHED and are reported as notifications.
func (s *Session) Start(ctx context.Context) error {
	if err := s.persona.Validate(); err != nil {
		return &ValidationError{Message: MsgMissingPersona}
	}
	if err := s.checkIdle(); err != nil {
		return err
	}
	doc, err := s.Document(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(doc) == "" {
		return &ValidationError{Message: MsgMissingDocument}
	}
	return s.beginConnecting(doc, func(g uint64, gctx context.Context) {
		s.startFull(g, gctx, doc)
	})
}

// QuickStart begins a session straight from a student question. The note is
// optional and no completion is requested; the greeting opens the call.
func (s *Session) QuickStart(ctx context.Context, question string) error {
	if err := s.persona.Validate(); err != nil {
		return &ValidationError{Message: MsgMissingPersona}
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return &ValidationError{Message: MsgMissingQuestion}
	}
	if err := s.checkIdle(); err != nil {
		return err
	}
	doc, err := s.Document(ctx)
	if err != nil {
		slog.Warn("session: quick start without document", "session_id", s.id, "err", err)
		doc = ""
	}
	return s.beginConnecting(doc, func(g uint64, gctx context.Context) {
		s.appendTurn(g, transcript.User, question)
		cfg, err := s.builder.Build(assistant.Input{
			Persona:     s.persona,
			StudentName: s.participant.DisplayName,
			Document:    doc,
		})
		if err != nil {
			s.finishIf(g, isConnecting, MsgMissingPersona, err, false)
			return
		}
		s.connect(g, gctx, cfg)
	})
}

// Disconnect ends a CONNECTING or ACTIVE session. It never fails: live stop
// errors are logged. Calling it in any other state is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.status.live() {
		s.mu.Unlock()
		return
	}
	after := s.endLocked("", true)
	s.mu.Unlock()
	slog.Info("session: disconnected", "session_id", s.id)
	after()
}

// ToggleMicrophone inverts the live mute state and returns the new value.
func (s *Session) ToggleMicrophone() (bool, error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != StatusActive {
		return false, ErrInvalidState
	}

	muted, err := s.call.IsMuted()
	if err != nil {
		return false, fmt.Errorf("session: read mute state: %w", err)
	}
	if err := s.call.SetMuted(!muted); err != nil {
		return false, fmt.Errorf("session: set mute state: %w", err)
	}

	s.mu.Lock()
	s.muted = !muted
	g := s.gen
	s.mu.Unlock()
	s.publish(Notification{Type: NotifyMute, Status: StatusActive, Generation: g, Muted: !muted})
	return !muted, nil
}

// Reset disconnects if needed and returns the session to INACTIVE with an
// empty transcript. Persona, participant and the stored note are kept.
func (s *Session) Reset() error {
	s.Disconnect()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.bumpLocked()
	s.log = transcript.NewLog()
	s.muted = false
	s.speaking = false
	s.recorded = false
	s.lastError = ""
	s.doc = ""
	s.startedAt = time.Time{}
	n := s.transitionLocked(StatusInactive)
	s.mu.Unlock()

	s.publish(n)
	return nil
}

// SendAudio forwards a chunk of student audio to the live call.
func (s *Session) SendAudio(chunk []byte) error {
	return s.call.SendAudio(chunk)
}

// Audio returns assistant audio from the live call. There should be a single
// reader; chunks are dropped when nobody drains it.
func (s *Session) Audio() <-chan []byte { return s.call.Audio() }

// Close disconnects, stops the event loop and closes every subscriber.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Disconnect()

		s.mu.Lock()
		s.closed = true
		if s.genCancel != nil {
			s.genCancel()
		}
		if s.startTimer != nil {
			s.startTimer.Stop()
		}
		s.mu.Unlock()

		s.cancel()
		close(s.done)
		err = s.call.Close()
		s.wg.Wait()
		s.closeSubscribers()
	})
	return err
}

// ── Internals ────────────────────────────────────────────────────────────────

func isConnecting(st Status) bool { return st == StatusConnecting }
func isLive(st Status) bool       { return st.live() }

// checkIdle reports why the session cannot start right now.
func (s *Session) checkIdle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.status.live():
		return ErrSessionBusy
	case s.status != StatusInactive:
		return ErrInvalidState
	}
	return nil
}

// beginConnecting moves INACTIVE → CONNECTING under a new generation, arms
// the start timer and launches fn for the rest of the start.
func (s *Session) beginConnecting(doc string, fn func(g uint64, gctx context.Context)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status != StatusInactive {
		busy := s.status.live()
		s.mu.Unlock()
		if busy {
			return ErrSessionBusy
		}
		return ErrInvalidState
	}
	g := s.bumpLocked()
	gctx := s.genCtx
	s.doc = doc
	s.lastError = ""
	s.connectAt = time.Now()
	s.startTimer = time.AfterFunc(s.startTimeout, func() { s.onStartTimeout(g) })
	n := s.transitionLocked(StatusConnecting)
	s.wg.Go(func() { fn(g, gctx) })
	s.mu.Unlock()

	slog.Info("session: connecting", "session_id", s.id, "generation", g, "has_document", doc != "")
	s.publish(n)
	return nil
}

// startFull requests the opening reply and connects.
func (s *Session) startFull(g uint64, gctx context.Context, doc string) {
	cfg, err := s.builder.Build(assistant.Input{
		Persona:     s.persona,
		StudentName: s.participant.DisplayName,
		Document:    doc,
	})
	if err != nil {
		s.finishIf(g, isConnecting, MsgMissingPersona, err, false)
		return
	}

	reply, err := s.complete(gctx, completion.UserMessage(assistant.StartPrompt(doc)))
	if !s.isCurrent(g) {
		return
	}
	if err != nil {
		s.finishIf(g, isConnecting, MsgCompletionFailed, err, false)
		return
	}
	cfg.FirstMessage = cfg.FirstMessage + "\n\n" + reply
	s.connect(g, gctx, cfg)
}

// connect opens the first live connection of generation g.
func (s *Session) connect(g uint64, gctx context.Context, cfg live.AssistantConfig) {
	err := s.call.Start(gctx, cfg)
	if err == nil {
		return
	}
	if errors.Is(err, livecall.ErrSuperseded) || errors.Is(err, livecall.ErrClosed) || !s.isCurrent(g) {
		return
	}
	if errors.Is(err, live.ErrInsufficientBalance) {
		s.finishIf(g, isLive, MsgInsufficientBalance, err, false)
		return
	}
	s.finishIf(g, isConnecting, MsgStartFailed, err, false)
}

func (s *Session) onStartTimeout(g uint64) {
	s.finishIf(g, isConnecting, MsgStartFailed, ErrStartTimeout, false)
}

// complete calls the completion gateway with the configured timeout.
func (s *Session) complete(ctx context.Context, msgs []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.completionTimeout)
	defer cancel()
	return s.completer.Complete(ctx, msgs)
}

// bumpLocked advances the generation and cancels work tagged with the old
// one. s.mu must be held.
func (s *Session) bumpLocked() uint64 {
	if s.genCancel != nil {
		s.genCancel()
	}
	s.gen++
	s.genCtx, s.genCancel = context.WithCancel(s.ctx)
	s.pendingEcho = nil
	return s.gen
}

func (s *Session) isCurrent(g uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == g
}

// transitionLocked sets the status and returns the notification to publish
// once s.mu is released.
func (s *Session) transitionLocked(to Status) Notification {
	from := s.status
	s.status = to

	ctx := context.Background()
	s.metrics.RecordTransition(ctx, to.String())
	switch {
	case !from.live() && to.live():
		s.metrics.ActiveSessions.Add(ctx, 1)
	case from.live() && !to.live():
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	if from == StatusConnecting && to != StatusConnecting && s.startTimer != nil {
		s.startTimer.Stop()
		s.startTimer = nil
	}
	return Notification{Type: NotifyStatus, Status: to, Generation: s.gen}
}

// finishIf ends generation g if its status satisfies pred.
func (s *Session) finishIf(g uint64, pred func(Status) bool, msg string, cause error, record bool) {
	s.mu.Lock()
	if s.gen != g || !pred(s.status) {
		s.mu.Unlock()
		return
	}
	after := s.endLocked(msg, record)
	s.mu.Unlock()

	if cause != nil {
		slog.Warn("session: finished with error", "session_id", s.id, "generation", g, "err", cause)
	}
	after()
}

// endLocked moves a live session to FINISHED. s.mu must be held; the
// returned function performs the side effects and must be called after
// unlocking.
func (s *Session) endLocked(msg string, record bool) func() {
	wasActive := s.status == StatusActive
	s.bumpLocked()
	s.speaking = false
	if msg != "" {
		s.lastError = msg
	}
	n := s.transitionLocked(StatusFinished)
	rec, ok := s.recordLocked(record && wasActive)

	return func() {
		if err := s.call.Stop(); err != nil {
			slog.Warn("session: stop live call", "session_id", s.id, "err", err)
		}
		if msg != "" {
			s.publish(Notification{Type: NotifyError, Status: StatusFinished, Generation: n.Generation, Message: msg})
		}
		s.publish(n)
		if ok {
			s.record(rec)
		}
	}
}

// recordLocked claims the one history record of the current cycle.
func (s *Session) recordLocked(wasActive bool) (history.Record, bool) {
	if !wasActive || s.recorded || s.recorder == nil {
		return history.Record{}, false
	}
	s.recorded = true
	return history.Record{
		SessionID:     s.id,
		CompanionName: s.persona.Name,
		Subject:       s.persona.Subject,
		Topic:         s.persona.Topic,
		Voice:         s.persona.Voice,
		Style:         s.persona.Style,
		Turns:         s.log.Len(),
		StartedAt:     s.startedAt,
		EndedAt:       time.Now(),
	}, true
}

func (s *Session) record(rec history.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordCompleted(ctx, rec); err != nil {
		slog.Warn("session: record history", "session_id", s.id, "err", err)
	}
}
