package chatapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/tutorcall/pkg/provider/llm"
	"github.com/MrWong99/tutorcall/pkg/provider/llm/chatapi"
)

func serve(t *testing.T, status int, body string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func complete(t *testing.T, url string) (*llm.CompletionResponse, error) {
	t.Helper()
	p, err := chatapi.New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
}

func TestNew_EmptyEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := chatapi.New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestComplete_Reply(t *testing.T) {
	t.Parallel()
	var req map[string]any
	srv := serve(t, http.StatusOK, `{"reply":"Hello there"}`, &req)

	resp, err := complete(t, srv.URL)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first role = %v, want system", first["role"])
	}
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus bool
		wantEmpty  bool
	}{
		{name: "backend error", status: 500, body: `{"reply":null,"error":"quota exceeded"}`, wantStatus: true},
		{name: "null reply on 500", status: 500, body: `{"reply":null}`, wantEmpty: true},
		{name: "empty object", status: 200, body: `{}`, wantEmpty: true},
		{name: "bad gateway html", status: 502, body: `<html>bad gateway</html>`, wantStatus: true},
		{name: "error on 200", status: 200, body: `{"reply":null,"error":"nope"}`, wantStatus: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, tc.status, tc.body, nil)
			_, err := complete(t, srv.URL)
			if err == nil {
				t.Fatal("expected error")
			}
			var se *llm.StatusError
			if got := errors.As(err, &se); got != tc.wantStatus {
				t.Errorf("StatusError = %v, want %v (err %v)", got, tc.wantStatus, err)
			}
			if got := errors.Is(err, llm.ErrEmptyResponse); got != tc.wantEmpty {
				t.Errorf("ErrEmptyResponse = %v, want %v (err %v)", got, tc.wantEmpty, err)
			}
		})
	}
}

func TestComplete_MalformedJSON(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, `not json`, nil)
	_, err := complete(t, srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		t.Error("decode failure must not be a StatusError")
	}
}
