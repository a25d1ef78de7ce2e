package history

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	_ Recorder  = (*MemoryStore)(nil)
	_ ChatStore = (*MemoryStore)(nil)
)

// MemoryStore is an in-process [Recorder] and [ChatStore].
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	chats   map[string]Chat
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]Chat)}
}

// RecordCompleted implements Recorder.
func (s *MemoryStore) RecordCompleted(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of every recorded session in order.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// CreateChat implements ChatStore.
func (s *MemoryStore) CreateChat(_ context.Context, chat Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	chat.Messages = slices.Clone(chat.Messages)
	s.chats[chat.ID] = chat
	return nil
}

// GetChat implements ChatStore.
func (s *MemoryStore) GetChat(_ context.Context, id string) (Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return Chat{}, ErrNotFound
	}
	c.Messages = slices.Clone(c.Messages)
	return c, nil
}

// ListChats implements ChatStore.
func (s *MemoryStore) ListChats(_ context.Context) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		c.Messages = slices.Clone(c.Messages)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Chat) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

// AppendMessages implements ChatStore.
func (s *MemoryStore) AppendMessages(_ context.Context, id string, msgs ...ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	for _, m := range msgs {
		if m.At.IsZero() {
			m.At = now
		}
		c.Messages = append(c.Messages, m)
	}
	c.UpdatedAt = now
	s.chats[id] = c
	return nil
}

// RenameChat implements ChatStore.
func (s *MemoryStore) RenameChat(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	s.chats[id] = c
	return nil
}

// DeleteChat implements ChatStore.
func (s *MemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	delete(s.chats, id)
	return nil
}
