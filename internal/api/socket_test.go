package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/tutorcall/internal/session"
	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

func dialSocket(t *testing.T, h *harness, id string, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + id + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// readUntil reads frames until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(kind int, data []byte) bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(kind, data) {
			return
		}
	}
}

func TestSocket_RelaysNotificationsAndAudio(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	id := h.create(t, persona)

	ws, _, err := dialSocket(t, h, id, "http://localhost:3000")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	conn := h.activate(t, id)

	readUntil(t, ws, "ACTIVE status", func(kind int, data []byte) bool {
		if kind != websocket.TextMessage {
			return false
		}
		var n session.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatalf("decode notification %q: %v", data, err)
		}
		return n.Type == session.NotifyStatus && strings.Contains(string(data), `"ACTIVE"`)
	})

	conn.EmitAudio([]byte{1, 2, 3})
	readUntil(t, ws, "assistant audio", func(kind int, data []byte) bool {
		return kind == websocket.BinaryMessage && bytes.Equal(data, []byte{1, 2, 3})
	})

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{9, 8}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	waitFor(t, "student audio", func() bool {
		sent := conn.SentAudio()
		return len(sent) == 1 && bytes.Equal(sent[0], []byte{9, 8})
	})

	conn.Emit(live.Event{Type: live.EventTranscript, Role: live.RoleUser, Text: "hello there", Final: true})
	readUntil(t, ws, "transcript", func(kind int, data []byte) bool {
		return kind == websocket.TextMessage && strings.Contains(string(data), "hello there")
	})
}

func TestSocket_ClosedWhenSessionDeleted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	id := h.create(t, persona)

	ws, _, err := dialSocket(t, h, id, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if rec := h.do(t, http.MethodDelete, "/v1/sessions/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("close err = %v; want going away", err)
			}
			return
		}
	}
}

func TestSocket_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	id := h.create(t, persona)

	_, resp, err := dialSocket(t, h, id, "http://evil.example")
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v; want 403", resp)
	}
}
