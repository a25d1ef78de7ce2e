package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/MrWong99/tutorcall/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxClientFrame = 1 << 20
)

// handleSocket upgrades to a WebSocket and relays the session in both
// directions until either side goes away:
//
//   - session notifications are written as JSON text frames
//   - assistant audio is written as binary frames
//   - binary frames from the client are forwarded as student audio
//
// Assistant audio has a single reader, so only one socket per session should
// be open at a time.
func (s *Server) handleSocket(c *gin.Context) {
	sess := current(c)

	// Subscribe before the handshake completes so nothing published after the
	// client sees the upgrade is missed.
	notes, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("api: websocket upgrade failed", "session_id", sess.ID(), "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.metrics.ActiveSockets.Add(ctx, 1)
	defer s.metrics.ActiveSockets.Add(context.Background(), -1)
	slog.Info("api: websocket connected", "session_id", sess.ID(), "remote", c.Request.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeLoop(ctx, conn, notes, sess.Audio())
		// Unblocks readLoop when the writer stops first.
		_ = conn.Close()
	}()

	readLoop(ctx, conn, sess)
	cancel()
	<-writerDone
	slog.Info("api: websocket closed", "session_id", sess.ID())
}

// readLoop forwards client audio until the connection fails or ctx ends.
func readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("api: websocket read failed", "session_id", sess.ID(), "err", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := sess.SendAudio(data); err != nil {
			slog.Debug("api: dropping client audio", "session_id", sess.ID(), "err", err)
		}
	}
}

// writeLoop is the only goroutine writing to conn.
func writeLoop(ctx context.Context, conn *websocket.Conn, notes <-chan session.Notification, audio <-chan []byte) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case n, ok := <-notes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				slog.Error("api: encode notification", "err", err)
				continue
			}
			if err := write(conn, websocket.TextMessage, data); err != nil {
				return
			}

		case chunk, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if err := write(conn, websocket.BinaryMessage, chunk); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, kind int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data)
}
