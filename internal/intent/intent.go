// Package intent decides what a student wants from a single utterance.
package intent

import "strings"

// Kind is the routing decision for one utterance.
type Kind int

const (
	// Freeform is any question not about the note itself.
	Freeform Kind = iota
	// Read asks the tutor to read, explain or teach the note.
	Read
	// Quiz asks the tutor to test the student on the note.
	Quiz
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Quiz:
		return "quiz"
	default:
		return "freeform"
	}
}

// Keyword lists. Read is checked before Quiz, so "explain the test" reads.
var (
	readKeywords = []string{"read", "go through", "explain", "teach"}
	quizKeywords = []string{"quiz", "ask", "question", "test"}
)

// Classify maps text to a Kind by case-insensitive substring match.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	if containsAny(lower, readKeywords) {
		return Read
	}
	if containsAny(lower, quizKeywords) {
		return Quiz
	}
	return Freeform
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
