// Package transcript keeps the ordered record of what was said in a tutoring
// session.
//
// A [Log] is append-only: entries are never reordered, merged, deduplicated
// or edited once written. All methods are safe for concurrent use.
package transcript

import (
	"fmt"
	"sync"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// Valid reports whether s is User or Assistant.
func (s Speaker) Valid() bool {
	return s == User || s == Assistant
}

// Entry is one finished turn.
type Entry struct {
	Speaker Speaker   `json:"speaker"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Log is an append-only list of entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append adds a turn at the end of the log.
func (l *Log) Append(speaker Speaker, content string) (Entry, error) {
	if !speaker.Valid() {
		return Entry{}, fmt.Errorf("transcript: invalid speaker %q", speaker)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{Speaker: speaker, Content: content, At: l.now()}
	l.entries = append(l.entries, e)
	return e, nil
}

// Snapshot returns a copy of all entries in order.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
