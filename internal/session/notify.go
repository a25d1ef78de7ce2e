package session

import (
	"time"

	"github.com/MrWong99/tutorcall/internal/transcript"
)

// NotificationType classifies a [Notification].
type NotificationType string

const (
	NotifyStatus     NotificationType = "status"
	NotifyTranscript NotificationType = "transcript"
	NotifySpeech     NotificationType = "speech"
	NotifyMute       NotificationType = "mute"
	NotifyError      NotificationType = "error"
)

// Notification is pushed to subscribers whenever something observable
// changes. Only the fields relevant to Type are set.
type Notification struct {
	Type NotificationType `json:"type"`
	At   time.Time        `json:"at"`

	Status     Status `json:"status"`
	Generation uint64 `json:"generation"`

	// Transcript notifications.
	Speaker transcript.Speaker `json:"speaker,omitempty"`
	Text    string             `json:"text,omitempty"`
	Final   bool               `json:"final,omitempty"`

	Speaking bool `json:"speaking,omitempty"`
	Muted    bool `json:"muted,omitempty"`

	// Message is the student-facing text of an error notification.
	Message string `json:"message,omitempty"`
}

// subscriberBuffer is the per-subscriber queue length. Notifications to a
// full subscriber are dropped.
const subscriberBuffer = 64

type subscriber struct {
	ch     chan Notification
	closed bool
}

// Subscribe registers a notification listener. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
// After Close the channel is closed immediately.
func (s *Session) Subscribe() (<-chan Notification, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	sub := &subscriber{ch: make(chan Notification, subscriberBuffer)}
	if s.subsClosed {
		close(sub.ch)
		sub.closed = true
		return sub.ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub

	return sub.ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(s.subs, id)
		close(sub.ch)
	}
}

// publish fans n out to every subscriber without blocking.
func (s *Session) publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- n:
		default:
		}
	}
}

// closeSubscribers closes every subscriber channel and refuses new ones.
func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subsClosed = true
	for id, sub := range s.subs {
		sub.closed = true
		close(sub.ch)
		delete(s.subs, id)
	}
}
