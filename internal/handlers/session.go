package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkchat/internal/auth"
	"linkchat/internal/chat"
)

// TokenSink receives the session token so outbound calls authenticate as
// the session user.
type TokenSink interface {
	SetToken(token string)
}

// SessionHandler starts and ends the chat session.
type SessionHandler struct {
	chats    ChatService
	provider auth.Provider
	sinks    []TokenSink
	log      *zap.Logger
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(chats ChatService, provider auth.Provider, log *zap.Logger, sinks ...TokenSink) *SessionHandler {
	return &SessionHandler{chats: chats, provider: provider, sinks: sinks, log: log}
}

// StartSession resolves the token owner and binds the chat manager to them.
// Logging in as another user replaces the running session.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := auth.StripBearer(req.Token)
	userID, err := h.provider.CurrentUserID(c.Request.Context(), token)
	if err != nil {
		h.log.Debug("session token rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	for _, sink := range h.sinks {
		sink.SetToken(token)
	}
	if err := h.chats.StartSession(c.Request.Context(), userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrTransport) {
			status = http.StatusServiceUnavailable
		}
		h.log.Error("start chat session failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "state": h.chats.State()})
}

// EndSession logs out: the connection is closed and every window dropped.
func (h *SessionHandler) EndSession(c *gin.Context) {
	h.chats.EndSession()
	for _, sink := range h.sinks {
		sink.SetToken("")
	}
	c.Status(http.StatusNoContent)
}
