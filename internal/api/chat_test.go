package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/MrWong99/tutorcall/internal/api"
	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

func TestChat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      map[string]any
		reply     string
		err       error
		wantCode  int
		wantReply string
		wantError string
	}{
		{
			name:      "no messages",
			body:      map[string]any{"messages": []any{}},
			wantCode:  http.StatusBadRequest,
			wantError: "No messages provided",
		},
		{
			name:      "missing messages",
			body:      map[string]any{},
			wantCode:  http.StatusBadRequest,
			wantError: "No messages provided",
		},
		{
			name: "reply",
			body: map[string]any{"messages": []map[string]string{
				{"sender": "user", "content": "Hi"},
				{"sender": "bot", "content": "Hello"},
				{"sender": "user", "content": "What is ATP?"},
			}},
			reply:     "Energy currency of the cell.",
			wantCode:  http.StatusOK,
			wantReply: "Energy currency of the cell.",
		},
		{
			name:      "backend error",
			body:      map[string]any{"messages": []map[string]string{{"role": "user", "content": "x"}}},
			err:       &completion.BackendError{Provider: "openai", StatusCode: 429, Message: "Rate limit reached"},
			wantCode:  http.StatusInternalServerError,
			wantError: "Rate limit reached",
		},
		{
			name:     "empty reply",
			body:     map[string]any{"messages": []map[string]string{{"role": "user", "content": "x"}}},
			err:      completion.ErrEmptyReply,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:      "transport error",
			body:      map[string]any{"messages": []map[string]string{{"role": "user", "content": "x"}}},
			err:       &completion.TransportError{Err: errors.New("dial tcp: refused")},
			wantCode:  http.StatusInternalServerError,
			wantError: "Unexpected server error",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got []llm.Message
			h := newHarness(t, func(c *api.Config) {
				c.Completer = completerFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
					got = msgs
					return tc.reply, tc.err
				})
			})

			rec := h.do(t, http.MethodPost, "/v1/chat", tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d; want %d (%s)", rec.Code, tc.wantCode, rec.Body)
			}
			var resp struct {
				Reply *string `json:"reply"`
				Error string  `json:"error"`
			}
			decode(t, rec, &resp)
			if tc.wantReply == "" && resp.Reply != nil {
				t.Errorf("reply = %q; want null", *resp.Reply)
			}
			if tc.wantReply != "" && (resp.Reply == nil || *resp.Reply != tc.wantReply) {
				t.Errorf("reply = %v; want %q", resp.Reply, tc.wantReply)
			}
			if resp.Error != tc.wantError {
				t.Errorf("error = %q; want %q", resp.Error, tc.wantError)
			}
			if tc.name == "reply" {
				if len(got) != 1 || got[0].Role != llm.RoleUser || got[0].Content != "What is ATP?" {
					t.Errorf("sent = %+v; want only the last message as user", got)
				}
			}
		})
	}
}

func TestChat_AppendsToHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *api.Config) {
		c.Completer = completerFunc(func(context.Context, []llm.Message) (string, error) {
			return "Glucose and oxygen.", nil
		})
		c.NewID = func() string { return "chat-1" }
	})

	rec := h.do(t, http.MethodPost, "/v1/chats", map[string]string{"message": "What does photosynthesis produce for the plant?"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chat: %d %s", rec.Code, rec.Body)
	}
	var chat history.Chat
	decode(t, rec, &chat)
	if chat.ID != "chat-1" || chat.Title != "What does photosynthesis produce for..." {
		t.Errorf("chat = %+v", chat)
	}

	rec = h.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"chat_id":  "chat-1",
		"messages": []map[string]string{{"sender": "user", "content": "And the byproduct?"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rec.Code, rec.Body)
	}

	stored, err := h.chats.GetChat(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if len(stored.Messages) != 3 {
		t.Fatalf("messages = %+v; want 3", stored.Messages)
	}
	if m := stored.Messages[2]; m.Role != "assistant" || m.Content != "Glucose and oxygen." {
		t.Errorf("last message = %+v", m)
	}
}

func TestChats_CRUD(t *testing.T) {
	t.Parallel()
	ids := []string{"a", "b"}
	h := newHarness(t, func(c *api.Config) {
		c.NewID = func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}
	})

	if rec := h.do(t, http.MethodGet, "/v1/chats", nil); rec.Code != http.StatusOK || rec.Body.String() != "[]" {
		t.Errorf("empty list: %d %s", rec.Code, rec.Body)
	}
	if rec := h.do(t, http.MethodPost, "/v1/chats", map[string]string{"message": " "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank message: %d; want 400", rec.Code)
	}
	for _, msg := range []string{"first question", "second question"} {
		if rec := h.do(t, http.MethodPost, "/v1/chats", map[string]string{"message": msg}); rec.Code != http.StatusCreated {
			t.Fatalf("create: %d", rec.Code)
		}
	}

	var list []history.Chat
	decode(t, h.do(t, http.MethodGet, "/v1/chats", nil), &list)
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}

	rec := h.do(t, http.MethodPatch, "/v1/chats/a", map[string]string{"title": "Renamed"})
	var chat history.Chat
	decode(t, rec, &chat)
	if rec.Code != http.StatusOK || chat.Title != "Renamed" {
		t.Errorf("rename: %d %+v", rec.Code, chat)
	}
	if rec := h.do(t, http.MethodPatch, "/v1/chats/a", map[string]string{"title": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty title: %d; want 400", rec.Code)
	}

	if rec := h.do(t, http.MethodDelete, "/v1/chats/a", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rec.Code)
	}
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/chats/a"},
		{http.MethodDelete, "/v1/chats/a"},
		{http.MethodPatch, "/v1/chats/zzz"},
	} {
		var body any
		if tc.method == http.MethodPatch {
			body = map[string]string{"title": "x"}
		}
		if rec := h.do(t, tc.method, tc.path, body); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: %d; want 404", tc.method, tc.path, rec.Code)
		}
	}
}
