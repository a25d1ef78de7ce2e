package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if TUTORCALL_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TUTORCALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TUTORCALL_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a Store on a freshly dropped schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, tbl := range []string{"chat_messages", "chats", "session_history"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+tbl+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", tbl, err)
		}
	}

	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_RecordCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)
	rec := history.Record{
		SessionID: "01SESSION", CompanionName: "Leafy", Subject: "Biology",
		Topic: "Photosynthesis", Voice: "female", Style: "casual", Turns: 4,
		StartedAt: start,
	}
	if err := s.RecordCompleted(ctx, rec); err != nil {
		t.Fatalf("RecordCompleted: %v", err)
	}

	recs, err := s.Records(ctx, "01SESSION")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d; want 1", len(recs))
	}
	got := recs[0]
	if got.Topic != "Photosynthesis" || got.Turns != 4 || !got.StartedAt.Equal(start) || got.EndedAt.IsZero() {
		t.Errorf("record = %+v", got)
	}
}

func TestStore_Chats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateChat(ctx, history.Chat{
		ID: "01A", Title: history.Title("What is a cell membrane made of"),
		Messages: []history.ChatMessage{{Role: "user", Content: "What is a cell membrane made of"}},
	}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := s.CreateChat(ctx, history.Chat{ID: "01B", Title: "Second..."}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if err := s.AppendMessages(ctx, "01A", history.ChatMessage{Role: "assistant", Content: "Lipids."}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	c, err := s.GetChat(ctx, "01A")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if c.Title != "What is a cell membrane..." || len(c.Messages) != 2 || c.Messages[1].Content != "Lipids." {
		t.Errorf("chat = %+v", c)
	}

	list, err := s.ListChats(ctx)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(list) != 2 || list[0].ID != "01A" {
		t.Errorf("list = %+v", list)
	}

	if err := s.RenameChat(ctx, "01B", "Renamed"); err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	if err := s.DeleteChat(ctx, "01A"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := s.GetChat(ctx, "01A"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("GetChat after delete = %v", err)
	}
	if err := s.AppendMessages(ctx, "01A", history.ChatMessage{Role: "user", Content: "x"}); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("AppendMessages on deleted = %v", err)
	}
}
