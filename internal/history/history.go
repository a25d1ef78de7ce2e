// Package history records finished tutoring sessions and keeps the list of
// text chats a student started.
//
// Two interfaces are defined here. [Recorder] is called by the session state
// machine exactly once per completed call. [ChatStore] backs the chat list
// endpoints. [MemoryStore] implements both for tests and single-process
// deployments; the postgres subpackage implements both on PostgreSQL.
package history

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a chat id does not exist.
var ErrNotFound = errors.New("history: not found")

// Record describes one completed live session.
type Record struct {
	SessionID     string
	CompanionName string
	Subject       string
	Topic         string
	Voice         string
	Style         string

	// Turns is the transcript length at the time the call ended.
	Turns int

	StartedAt time.Time
	EndedAt   time.Time
}

// Recorder persists completed sessions.
type Recorder interface {
	RecordCompleted(ctx context.Context, rec Record) error
}

// ChatMessage is one turn of a text chat.
type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Chat is an entry in the chat history list.
type Chat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChatStore keeps the chat history list. List returns chats most recently
// updated first.
type ChatStore interface {
	CreateChat(ctx context.Context, chat Chat) error
	GetChat(ctx context.Context, id string) (Chat, error)
	ListChats(ctx context.Context) ([]Chat, error)
	AppendMessages(ctx context.Context, id string, msgs ...ChatMessage) error
	RenameChat(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error
}

// titleWords is how many words of the first message make a chat title.
const titleWords = 5

// Title derives a chat title from its first message: the first five
// space-separated words followed by "...".
func Title(firstMessage string) string {
	words := strings.Split(firstMessage, " ")
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	return strings.Join(words, " ") + "..."
}
