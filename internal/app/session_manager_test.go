package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/MrWong99/tutorcall/internal/api"
	"github.com/MrWong99/tutorcall/internal/app"
	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/config"
	"github.com/MrWong99/tutorcall/internal/document"
	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/internal/session"
	livemock "github.com/MrWong99/tutorcall/pkg/provider/live/mock"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
	llmmock "github.com/MrWong99/tutorcall/pkg/provider/llm/mock"
)

func newTestSessionManager(t *testing.T, reply string) (*app.SessionManager, *document.MemoryStore) {
	t.Helper()
	docs := document.NewMemoryStore()
	var n int
	var mu sync.Mutex
	m := app.NewSessionManager(app.SessionManagerConfig{
		Live:      &livemock.Provider{},
		Documents: docs,
		Recorder:  history.NewMemoryStore(),
		Metrics:   testMetrics(t),
		Settings:  testSettings(reply, "Sorry?"),
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("s%d", n)
		},
	})
	t.Cleanup(func() { _ = m.CloseAll() })
	return m, docs
}

func testSettings(reply, fallback string) app.Settings {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reply}}
	return app.Settings{
		Builder:   assistant.NewBuilder(assistant.DefaultCatalogue()),
		Completer: completion.New(p),
		Session:   config.SessionConfig{FallbackReply: fallback},
	}
}

func TestSessionManager_CreateGetDelete(t *testing.T) {
	t.Parallel()
	m, docs := newTestSessionManager(t, "ok")
	ctx := context.Background()

	s, err := m.Create(ctx, assistant.Persona{Name: "Leafy", Voice: "female", Style: "casual"}, session.Participant{DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID() != "s1" {
		t.Errorf("id = %q; want s1", s.ID())
	}
	if s.Status() != session.StatusInactive {
		t.Errorf("status = %v; want INACTIVE", s.Status())
	}
	if got, ok := m.Get("s1"); !ok || got != s {
		t.Errorf("Get(s1) = %v, %v", got, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d; want 1", m.Len())
	}

	if err := s.SetDocument(ctx, "chloroplast notes"); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	if err := m.Delete("s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Get("s1"); ok {
		t.Error("session still registered after Delete")
	}
	if doc, _ := docs.Get(ctx, "s1"); doc != "" {
		t.Errorf("document = %q after Delete; want dropped", doc)
	}
	if err := m.Delete("s1"); !errors.Is(err, api.ErrSessionNotFound) {
		t.Errorf("second Delete err = %v; want ErrSessionNotFound", err)
	}
}

func TestSessionManager_CreateCancelled(t *testing.T) {
	t.Parallel()
	m, _ := newTestSessionManager(t, "ok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Create(ctx, assistant.Persona{}, session.Participant{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v; want context.Canceled", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d; want 0", m.Len())
	}
}

func TestSessionManager_UpdateAffectsCompletion(t *testing.T) {
	t.Parallel()
	m, _ := newTestSessionManager(t, "first")
	ctx := context.Background()
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}

	got, err := m.Complete(ctx, msgs)
	if err != nil || got != "first" {
		t.Fatalf("Complete = %q, %v; want first", got, err)
	}

	m.Update(testSettings("second", "Pardon?"))
	got, err = m.Complete(ctx, msgs)
	if err != nil || got != "second" {
		t.Errorf("Complete after Update = %q, %v; want second", got, err)
	}
	if fb := m.Settings().Session.FallbackReply; fb != "Pardon?" {
		t.Errorf("FallbackReply = %q", fb)
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	t.Parallel()
	m, _ := newTestSessionManager(t, "ok")
	ctx := context.Background()

	var subs []<-chan session.Notification
	for range 3 {
		s, err := m.Create(ctx, assistant.Persona{Voice: "male", Style: "formal"}, session.Participant{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ch, _ := s.Subscribe()
		subs = append(subs, ch)
	}

	if err := m.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d; want 0", m.Len())
	}
	for _, ch := range subs {
		for range ch {
		}
	}
	if _, err := m.Create(ctx, assistant.Persona{}, session.Participant{}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Create after CloseAll err = %v; want ErrClosed", err)
	}
}

func TestSessionManager_ConcurrentCreate(t *testing.T) {
	t.Parallel()
	m, _ := newTestSessionManager(t, "ok")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Create(context.Background(), assistant.Persona{}, session.Participant{}); err != nil {
				t.Errorf("Create: %v", err)
			}
		}()
	}
	wg.Wait()
	if m.Len() != 20 {
		t.Errorf("Len = %d; want 20", m.Len())
	}
}
