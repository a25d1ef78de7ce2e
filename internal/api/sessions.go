package api

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/document"
	"github.com/MrWong99/tutorcall/internal/session"
)

// sessionKey is the gin context key holding the resolved *session.Session.
const sessionKey = "tutorcall.session"

type createSessionRequest struct {
	Persona     assistant.Persona   `json:"persona"`
	Participant session.Participant `json:"participant"`
}

type quickStartRequest struct {
	Question string `json:"question"`
}

type uploadResponse struct {
	Chars   int    `json:"chars"`
	Warning string `json:"warning,omitempty"`
}

// loadSession resolves :id or aborts with 404.
func (s *Server) loadSession(c *gin.Context) {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		abortWithError(c, ErrSessionNotFound)
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := s.sessions.Create(c.Request.Context(), req.Persona, req.Participant)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Snapshot())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.Delete(current(c).ID()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleUploadDocument accepts either a multipart "file" or a plain "text"
// form field. A file that cannot be extracted is still accepted and stored as
// an empty note; starting the session then reports the missing document.
func (s *Server) handleUploadDocument(c *gin.Context) {
	sess := current(c)
	ctx := c.Request.Context()

	var (
		text    string
		warning string
	)
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		text, err = s.extract(c, fh)
		if errors.Is(err, document.ErrTooLarge) {
			abortWithError(c, err)
			return
		}
		if err != nil {
			slog.Warn("api: document extraction failed", "session_id", sess.ID(), "file", fh.Filename, "err", err)
			text, warning = "", err.Error()
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		var ok bool
		if text, ok = c.GetPostForm("text"); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file or text field required"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload"})
		return
	}

	if err := sess.SetDocument(ctx, text); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponse{Chars: len([]rune(text)), Warning: warning})
}

func (s *Server) extract(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.extractor.Extract(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), f)
}

func (s *Server) handleStart(c *gin.Context) {
	sess := current(c)
	if err := sess.Start(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleQuickStart(c *gin.Context) {
	var req quickStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess := current(c)
	if err := sess.QuickStart(c.Request.Context(), req.Question); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleDisconnect(c *gin.Context) {
	sess := current(c)
	sess.Disconnect()
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleMute(c *gin.Context) {
	muted, err := current(c).ToggleMicrophone()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (s *Server) handleReset(c *gin.Context) {
	sess := current(c)
	if err := sess.Reset(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}
