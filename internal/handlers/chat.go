package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkchat/internal/chat"
	"linkchat/internal/middleware"
	"linkchat/internal/models"
)

// ChatService is the part of the chat manager exposed over HTTP.
type ChatService interface {
	StartSession(ctx context.Context, userID string) error
	EndSession()
	CurrentUserID() string
	State() chat.ConnState
	Windows() []models.ChatWindow
	OpenChat(ctx context.Context, user models.ChatUser) error
	CloseChat(userID string) bool
	MinimizeChat(userID string) bool
	MaximizeChat(userID string) bool
	SendMessage(ctx context.Context, userID, content string) (models.Message, error)
	UpdateFriendshipStatus(userID string, status models.FriendshipStatus) bool
}

// FriendshipLookup resolves the viewer's friendship with another user.
type FriendshipLookup interface {
	FriendshipStatus(ctx context.Context, viewerID, userID string) (models.FriendshipInfo, error)
}

// ChatHandler manages the chat window endpoints.
type ChatHandler struct {
	chats       ChatService
	friendships FriendshipLookup
	log         *zap.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats ChatService, friendships FriendshipLookup, log *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, friendships: friendships, log: log}
}

type chatsResponse struct {
	State chat.ConnState      `json:"state"`
	Chats []models.ChatWindow `json:"chats"`
	Found *bool               `json:"found,omitempty"`
}

func (h *ChatHandler) readModel(found *bool) chatsResponse {
	windows := h.chats.Windows()
	if windows == nil {
		windows = []models.ChatWindow{}
	}
	return chatsResponse{State: h.chats.State(), Chats: windows, Found: found}
}

// ListChats returns the connection state and the open windows in order.
func (h *ChatHandler) ListChats(c *gin.Context) {
	c.JSON(http.StatusOK, h.readModel(nil))
}

// OpenChat opens (or maximizes) the window for a counterpart. The request
// waits until the history has been loaded.
func (h *ChatHandler) OpenChat(c *gin.Context) {
	var req struct {
		UserID           string `json:"userId" binding:"required"`
		DisplayName      string `json:"displayName"`
		AvatarRef        string `json:"avatarRef"`
		FriendshipStatus string `json:"friendshipStatus"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var status models.FriendshipStatus
	if req.FriendshipStatus != "" {
		parsed, err := models.ParseFriendshipStatus(req.FriendshipStatus)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = parsed
	} else {
		info, err := h.friendships.FriendshipStatus(c.Request.Context(), c.GetString(middleware.UserIDKey), req.UserID)
		if err != nil {
			h.log.Warn("friendship lookup failed", zap.String("user_id", req.UserID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to resolve friendship"})
			return
		}
		status = info.Status
	}

	err := h.chats.OpenChat(c.Request.Context(), models.ChatUser{
		UserID:           req.UserID,
		DisplayName:      req.DisplayName,
		AvatarRef:        req.AvatarRef,
		FriendshipStatus: status,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.readModel(nil))
}

// CloseChat removes a window or cancels its pending open.
func (h *ChatHandler) CloseChat(c *gin.Context) {
	found := h.chats.CloseChat(c.Param("user_id"))
	c.JSON(http.StatusOK, h.readModel(&found))
}

func (h *ChatHandler) MinimizeChat(c *gin.Context) {
	found := h.chats.MinimizeChat(c.Param("user_id"))
	c.JSON(http.StatusOK, h.readModel(&found))
}

func (h *ChatHandler) MaximizeChat(c *gin.Context) {
	found := h.chats.MaximizeChat(c.Param("user_id"))
	c.JSON(http.StatusOK, h.readModel(&found))
}

// PostMessage sends a message to the counterpart of an open window.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), c.Param("user_id"), req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UpdateFriendship changes the friendship status shown for a counterpart.
func (h *ChatHandler) UpdateFriendship(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := models.ParseFriendshipStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	found := h.chats.UpdateFriendshipStatus(c.Param("user_id"), status)
	c.JSON(http.StatusOK, h.readModel(&found))
}

func (h *ChatHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	switch {
	case errors.Is(err, chat.ErrSendPolicy):
		status = http.StatusUnprocessableEntity
		body["reason"] = policyReason(err)
	case errors.Is(err, chat.ErrInvalidUser):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNoSession), errors.Is(err, chat.ErrOpenCancelled):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrHistoryFetch), errors.Is(err, chat.ErrPersistence):
		status = http.StatusBadGateway
	case errors.Is(err, chat.ErrTransport):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("chat request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func policyReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrNoWindow):
		return "no_window"
	case errors.Is(err, chat.ErrNotFriendly):
		return "not_friendly"
	case errors.Is(err, chat.ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, chat.ErrOffline):
		return "offline"
	}
	return "refused"
}
