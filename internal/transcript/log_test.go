package transcript_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/MrWong99/tutorcall/internal/transcript"
)

func TestLog_PreservesOrder(t *testing.T) {
	t.Parallel()

	l := transcript.NewLog()
	if _, err := l.Append(transcript.User, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(transcript.Assistant, "hi there"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Duplicates are kept.
	if _, err := l.Append(transcript.User, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := l.Snapshot()
	want := []struct {
		speaker transcript.Speaker
		content string
	}{
		{transcript.User, "hello"},
		{transcript.Assistant, "hi there"},
		{transcript.User, "hello"},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d; want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Speaker != w.speaker || got[i].Content != w.content {
			t.Errorf("entry[%d] = %+v; want %+v", i, got[i], w)
		}
		if got[i].At.IsZero() {
			t.Errorf("entry[%d] has zero timestamp", i)
		}
	}
}

func TestLog_RejectsUnknownSpeaker(t *testing.T) {
	t.Parallel()

	l := transcript.NewLog()
	if _, err := l.Append("narrator", "once upon a time"); err == nil {
		t.Fatal("expected error")
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d; want 0", l.Len())
	}
}

func TestLog_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	l := transcript.NewLog()
	_, _ = l.Append(transcript.User, "original")
	snap := l.Snapshot()
	snap[0].Content = "mutated"
	if got := l.Snapshot()[0].Content; got != "original" {
		t.Errorf("log entry changed through snapshot: %q", got)
	}
}

func TestLog_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	l := transcript.NewLog()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			_, _ = l.Append(transcript.User, fmt.Sprint(i))
		})
	}
	wg.Wait()
	if l.Len() != 50 {
		t.Errorf("Len = %d; want 50", l.Len())
	}
}
