// Package document holds the extracted text of the note a student uploaded
// for a session, and the extractor that turns uploaded files into that text.
package document

import (
	"context"
	"sync"
)

// Store keeps one document text per session id.
//
// Get returns the empty string and a nil error for unknown ids: a session
// without a document is a normal state, caught by start-time validation.
type Store interface {
	Put(ctx context.Context, sessionID, text string) error
	Get(ctx context.Context, sessionID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// MemoryStore is a process-local [Store].
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]string)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[sessionID] = text
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[sessionID], nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, sessionID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
