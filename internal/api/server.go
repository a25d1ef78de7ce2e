// Package api exposes tutoring sessions and the text chat over HTTP.
//
// Routes are served by gin. Session control is plain JSON; live notifications
// and assistant audio flow over a per-session WebSocket at
// /v1/sessions/:id/ws, where text frames carry JSON notifications and binary
// frames carry audio in both directions.
package api

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/document"
	"github.com/MrWong99/tutorcall/internal/health"
	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/internal/observe"
	"github.com/MrWong99/tutorcall/internal/session"
)

// ErrSessionNotFound is returned by [Sessions] implementations for unknown ids.
var ErrSessionNotFound = errors.New("api: session not found")

// Sessions is the session registry the server routes requests to.
type Sessions interface {
	Create(ctx context.Context, persona assistant.Persona, participant session.Participant) (*session.Session, error)
	Get(id string) (*session.Session, bool)
	Delete(id string) error
}

// Config holds the server's collaborators.
type Config struct {
	// Sessions is required.
	Sessions Sessions

	// Extractor turns uploads into text. Defaults to [document.NewExtractor].
	Extractor *document.Extractor

	// Completer backs POST /v1/chat. Required.
	Completer completion.Completer

	// Chats backs the chat history list. Required.
	Chats history.ChatStore

	// Health is mounted at /healthz and /readyz when non-nil.
	Health *health.Handler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler is mounted at /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	// AllowedOrigins lists browser origins allowed by CORS and the WebSocket
	// upgrader. "*" allows any origin.
	AllowedOrigins []string

	// NewID generates chat ids. Defaults to a ULID.
	NewID func() string
}

// Server is the HTTP front end.
type Server struct {
	sessions  Sessions
	extractor *document.Extractor
	completer completion.Completer
	chats     history.ChatStore
	health    *health.Handler
	metrics   *observe.Metrics
	promH     http.Handler
	origins   []string
	newID     func() string

	upgrader websocket.Upgrader
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("api: sessions registry is required")
	case cfg.Completer == nil:
		return nil, errors.New("api: completer is required")
	case cfg.Chats == nil:
		return nil, errors.New("api: chat store is required")
	}
	s := &Server{
		sessions:  cfg.Sessions,
		extractor: cfg.Extractor,
		completer: cfg.Completer,
		chats:     cfg.Chats,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		promH:     cfg.MetricsHandler,
		origins:   slices.Clone(cfg.AllowedOrigins),
		newID:     cfg.NewID,
	}
	if s.extractor == nil {
		s.extractor = document.NewExtractor()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.promH == nil {
		s.promH = promhttp.Handler()
	}
	if s.newID == nil {
		s.newID = session.NewID
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s, nil
}

// Routes returns the gin engine serving every endpoint.
func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.corsMiddleware(), observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Register(engine)
	}
	engine.GET("/metrics", gin.WrapH(s.promH))

	v1 := engine.Group("/v1")
	v1.POST("/sessions", s.handleCreateSession)

	sess := v1.Group("/sessions/:id", s.loadSession)
	sess.GET("", s.handleGetSession)
	sess.DELETE("", s.handleDeleteSession)
	sess.POST("/document", s.handleUploadDocument)
	sess.POST("/start", s.handleStart)
	sess.POST("/quickstart", s.handleQuickStart)
	sess.POST("/disconnect", s.handleDisconnect)
	sess.POST("/mute", s.handleMute)
	sess.POST("/reset", s.handleReset)
	sess.GET("/ws", s.handleSocket)

	v1.POST("/chat", s.handleChat)
	v1.GET("/chats", s.handleListChats)
	v1.POST("/chats", s.handleCreateChat)
	v1.GET("/chats/:id", s.handleGetChat)
	v1.PATCH("/chats/:id", s.handleRenameChat)
	v1.DELETE("/chats/:id", s.handleDeleteChat)

	return engine
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ── Errors ───────────────────────────────────────────────────────────────────

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *session.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionBusy), errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, document.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes {"error": ...}. Internal errors are logged and
// reported generically.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(c.Request.Context()).Error("request failed", "path", c.FullPath(), "err", err)
		msg = "internal server error"
	}
	var ve *session.ValidationError
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
