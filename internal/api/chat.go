package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/history"
)

// Messages returned by POST /v1/chat.
const (
	msgNoMessages = "No messages provided"
	msgUnexpected = "Unexpected server error"
)

// chatMessage accepts both the "sender" and "role" spellings used by clients.
type chatMessage struct {
	Sender  string `json:"sender"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m chatMessage) role() string {
	if m.Sender == "user" || m.Role == "user" {
		return "user"
	}
	return "assistant"
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`

	// ChatID, when set, appends the exchange to that history entry.
	ChatID string `json:"chat_id,omitempty"`
}

// chatResponse always carries "reply", null on failure.
type chatResponse struct {
	Reply *string `json:"reply"`
	Error string  `json:"error,omitempty"`
}

type createChatRequest struct {
	Message string `json:"message"`
}

type renameChatRequest struct {
	Title string `json:"title"`
}

// handleChat answers the last message of the conversation with the
// document-context system prompt.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, chatResponse{Error: "invalid json"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, chatResponse{Error: msgNoMessages})
		return
	}

	ctx := c.Request.Context()
	last := req.Messages[len(req.Messages)-1]
	reply, err := s.completer.Complete(ctx, completion.UserMessage(last.Content))
	if err != nil {
		var be *completion.BackendError
		switch {
		case errors.As(err, &be):
			slog.Warn("api: chat backend error", "provider", be.Provider, "status", be.StatusCode, "err", err)
			c.JSON(http.StatusInternalServerError, chatResponse{Error: be.Message})
		case errors.Is(err, completion.ErrEmptyReply):
			slog.Warn("api: chat backend returned no content")
			c.JSON(http.StatusInternalServerError, chatResponse{})
		default:
			slog.Error("api: chat failed", "err", err)
			c.JSON(http.StatusInternalServerError, chatResponse{Error: msgUnexpected})
		}
		return
	}

	if req.ChatID != "" {
		now := time.Now()
		err := s.chats.AppendMessages(ctx, req.ChatID,
			history.ChatMessage{Role: last.role(), Content: last.Content, At: now},
			history.ChatMessage{Role: "assistant", Content: reply, At: now},
		)
		if err != nil {
			slog.Warn("api: append chat history", "chat_id", req.ChatID, "err", err)
		}
	}
	c.JSON(http.StatusOK, chatResponse{Reply: &reply})
}

// ── Chat history list ────────────────────────────────────────────────────────

func (s *Server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}

	now := time.Now()
	chat := history.Chat{
		ID:        s.newID(),
		Title:     history.Title(req.Message),
		Messages:  []history.ChatMessage{{Role: "user", Content: req.Message, At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.chats.CreateChat(c.Request.Context(), chat); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (s *Server) handleListChats(c *gin.Context) {
	chats, err := s.chats.ListChats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if chats == nil {
		chats = []history.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) handleGetChat(c *gin.Context) {
	chat, err := s.chats.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) handleRenameChat(c *gin.Context) {
	var req renameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.chats.RenameChat(ctx, id, req.Title); err != nil {
		abortWithError(c, err)
		return
	}
	chat, err := s.chats.GetChat(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	if err := s.chats.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
