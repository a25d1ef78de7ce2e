package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/completion"
	livecall "github.com/MrWong99/tutorcall/internal/engine/live"
	"github.com/MrWong99/tutorcall/internal/intent"
	"github.com/MrWong99/tutorcall/internal/transcript"
	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

// run is the session event loop. It consumes live events in delivery order
// and executes closures posted by completion goroutines.
func (s *Session) run() {
	events := s.call.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case fn := <-s.actions:
			fn()
		case <-s.done:
			return
		}
	}
}

// post runs fn on the event loop. It gives up when the session closes.
func (s *Session) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.done:
	}
}

func (s *Session) handleEvent(ev live.Event) {
	switch ev.Type {
	case live.EventCallStart:
		s.onCallStart()
	case live.EventCallEnd:
		s.onCallEnd()
	case live.EventTranscript:
		s.onTranscript(ev)
	case live.EventSpeechStart:
		s.onSpeech(true)
	case live.EventSpeechEnd:
		s.onSpeech(false)
	case live.EventError:
		s.onLiveError(ev.Err)
	default:
		slog.Debug("session: ignoring live event", "session_id", s.id, "type", ev.Type)
	}
}

func (s *Session) onCallStart() {
	s.mu.Lock()
	if s.status != StatusConnecting {
		s.mu.Unlock()
		return
	}
	s.startedAt = time.Now()
	s.metrics.LiveStartDuration.Record(context.Background(), s.startedAt.Sub(s.connectAt).Seconds())
	n := s.transitionLocked(StatusActive)
	s.mu.Unlock()

	slog.Info("session: active", "session_id", s.id, "generation", n.Generation)
	s.publish(n)
}

func (s *Session) onCallEnd() {
	s.mu.Lock()
	if !s.status.live() {
		s.mu.Unlock()
		return
	}
	after := s.endLocked("", true)
	s.mu.Unlock()

	slog.Info("session: call ended", "session_id", s.id)
	after()
}

func (s *Session) onSpeech(speaking bool) {
	s.mu.Lock()
	if !s.status.live() {
		s.mu.Unlock()
		return
	}
	s.speaking = speaking
	n := Notification{Type: NotifySpeech, Status: s.status, Generation: s.gen, Speaking: speaking}
	s.mu.Unlock()
	s.publish(n)
}

func (s *Session) onLiveError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, live.ErrInsufficientBalance) {
		s.mu.Lock()
		if !s.status.live() {
			s.mu.Unlock()
			return
		}
		after := s.endLocked(MsgInsufficientBalance, false)
		s.mu.Unlock()

		slog.Warn("session: insufficient balance", "session_id", s.id, "err", err)
		after()
		return
	}

	s.mu.Lock()
	n := Notification{Type: NotifyError, Status: s.status, Generation: s.gen, Message: err.Error()}
	s.mu.Unlock()
	slog.Warn("session: live error", "session_id", s.id, "err", err)
	s.publish(n)
}

func (s *Session) onTranscript(ev live.Event) {
	speaker := transcript.Assistant
	if ev.Role == live.RoleUser {
		speaker = transcript.User
	}

	if !ev.Final {
		s.mu.Lock()
		n := Notification{Type: NotifyTranscript, Status: s.status, Generation: s.gen, Speaker: speaker, Text: ev.Text}
		active := s.status.live()
		s.mu.Unlock()
		if active {
			s.publish(n)
		}
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	switch speaker {
	case transcript.Assistant:
		if len(s.pendingEcho) > 0 && sameUtterance(s.pendingEcho[0], text) {
			// Spoken rendition of a reply that interject already logged.
			s.pendingEcho = s.pendingEcho[1:]
			s.mu.Unlock()
			return
		}
	case transcript.User:
		// Echoes still outstanding when the student speaks again never come.
		s.pendingEcho = nil
	}
	if _, err := s.log.Append(speaker, text); err != nil {
		s.mu.Unlock()
		slog.Error("session: append transcript", "session_id", s.id, "err", err)
		return
	}
	g, gctx, doc := s.gen, s.genCtx, s.doc
	s.mu.Unlock()

	s.publish(Notification{Type: NotifyTranscript, Status: StatusActive, Generation: g, Speaker: speaker, Text: text, Final: true})
	if speaker == transcript.User {
		s.route(g, gctx, doc, text)
	}
}

// appendTurn logs a turn for generation g while the session is live and
// notifies subscribers.
func (s *Session) appendTurn(g uint64, speaker transcript.Speaker, text string) {
	s.mu.Lock()
	if s.gen != g || !s.status.live() {
		s.mu.Unlock()
		return
	}
	if _, err := s.log.Append(speaker, text); err != nil {
		s.mu.Unlock()
		slog.Error("session: append transcript", "session_id", s.id, "err", err)
		return
	}
	status := s.status
	s.mu.Unlock()
	s.publish(Notification{Type: NotifyTranscript, Status: status, Generation: g, Speaker: speaker, Text: text, Final: true})
}

// ── Intent routing ───────────────────────────────────────────────────────────

// route classifies one final student utterance and launches its branch.
func (s *Session) route(g uint64, gctx context.Context, doc, text string) {
	kind := intent.Classify(text)
	s.metrics.RecordIntent(gctx, kind.String())
	slog.Debug("session: routed utterance", "session_id", s.id, "intent", kind)

	s.wg.Go(func() {
		switch kind {
		case intent.Read:
			s.restartWith(g, gctx, doc, assistant.ReadPrompt(doc))
		case intent.Quiz:
			s.restartWith(g, gctx, doc, assistant.QuizPrompt(doc))
		default:
			s.answer(g, gctx, text)
		}
	})
}

// restartWith asks for a new opening and restarts the live call with it.
// Completion failures fall back to interjecting the fallback reply.
func (s *Session) restartWith(g uint64, gctx context.Context, doc, prompt string) {
	reply, err := s.complete(gctx, completion.UserMessage(prompt))
	if err != nil {
		if !s.isCurrent(g) {
			return
		}
		slog.Warn("session: completion failed, using fallback reply", "session_id", s.id, "err", err)
		s.interject(g, s.fallbackReply)
		return
	}

	cfg, err := s.builder.Build(assistant.Input{Persona: s.persona, StudentName: s.participant.DisplayName})
	if err != nil {
		slog.Error("session: build restart config", "session_id", s.id, "err", err)
		return
	}
	cfg.FirstMessage = reply
	if excerpt := assistant.Excerpt(doc, s.excerptRunes); excerpt != "" {
		cfg.ContextMessages = []live.ContextMessage{{Role: live.RoleUser, Content: excerpt}}
	}

	s.mu.Lock()
	if s.gen != g || s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	next := s.bumpLocked()
	nctx := s.genCtx
	muted := s.muted
	s.mu.Unlock()

	slog.Info("session: restarting live call", "session_id", s.id, "generation", next)
	if err := s.call.Restart(nctx, cfg); err != nil {
		if errors.Is(err, livecall.ErrSuperseded) || errors.Is(err, livecall.ErrClosed) {
			return
		}
		if errors.Is(err, live.ErrInsufficientBalance) {
			s.finishIf(next, isLive, MsgInsufficientBalance, err, false)
			return
		}
		s.finishIf(next, isLive, MsgStartFailed, err, true)
		return
	}
	if muted {
		if err := s.call.SetMuted(true); err != nil {
			slog.Warn("session: restore mute after restart", "session_id", s.id, "err", err)
		}
	}
}

// answer replies to a free-form question, falling back on any failure.
func (s *Session) answer(g uint64, gctx context.Context, question string) {
	reply, err := s.complete(gctx, completion.UserMessage(question))
	if err != nil {
		if !s.isCurrent(g) {
			return
		}
		slog.Warn("session: completion failed, using fallback reply", "session_id", s.id, "err", err)
		reply = s.fallbackReply
	}
	s.interject(g, reply)
}

// interject makes the assistant say text on the current connection and logs
// it as an assistant turn.
func (s *Session) interject(g uint64, text string) {
	s.mu.Lock()
	if s.gen != g || s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.pendingEcho = append(s.pendingEcho, text)
	s.mu.Unlock()

	if err := s.call.Say(text); err != nil {
		s.mu.Lock()
		if s.gen == g {
			s.pendingEcho = dropLast(s.pendingEcho, text)
		}
		s.mu.Unlock()
		slog.Warn("session: interject failed", "session_id", s.id, "err", err)
		return
	}
	s.post(func() { s.appendTurn(g, transcript.Assistant, text) })
}

// sameUtterance compares two transcripts ignoring case, spacing and
// surrounding punctuation.
func sameUtterance(a, b string) bool {
	return normalizeUtterance(a) == normalizeUtterance(b)
}

func normalizeUtterance(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// dropLast removes the last occurrence of text from queue.
func dropLast(queue []string, text string) []string {
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i] == text {
			return append(queue[:i:i], queue[i+1:]...)
		}
	}
	return queue
}
