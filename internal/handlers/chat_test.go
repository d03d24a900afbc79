package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linkchat/internal/chat"
	"linkchat/internal/middleware"
	"linkchat/internal/mocks"
	"linkchat/internal/models"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "alice")
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.POST("/chats", handler.OpenChat)
	r.DELETE("/chats/:user_id", handler.CloseChat)
	r.POST("/chats/:user_id/minimize", handler.MinimizeChat)
	r.POST("/chats/:user_id/maximize", handler.MaximizeChat)
	r.POST("/chats/:user_id/messages", handler.PostMessage)
	r.PUT("/chats/:user_id/friendship", handler.UpdateFriendship)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func readModel(chats *mocks.ChatServiceMock, windows []models.ChatWindow) {
	chats.On("State").Return(chat.StateConnected)
	chats.On("Windows").Return(windows)
}

func TestListChats(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	readModel(chats, []models.ChatWindow{{ChatUser: models.ChatUser{UserID: "bob"}}})
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodGet, "/chats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		State string              `json:"state"`
		Chats []models.ChatWindow `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CONNECTED", resp.State)
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, "bob", resp.Chats[0].ChatUser.UserID)
}

func TestListChatsEmptyIsArray(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	readModel(chats, nil)
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodGet, "/chats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chats":[]`)
}

func TestOpenChatWithExplicitStatus(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	lookup := new(mocks.BackendMock)
	readModel(chats, nil)
	chats.On("OpenChat", mock.Anything, models.ChatUser{
		UserID:           "bob",
		DisplayName:      "Bob",
		FriendshipStatus: models.FriendshipFriendly,
	}).Return(nil).Once()
	router := setupChatRouter(NewChatHandler(chats, lookup, zap.NewNop()))

	rec := do(router, http.MethodPost, "/chats", `{"userId":"bob","displayName":"Bob","friendshipStatus":"friendly"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	chats.AssertExpectations(t)
	lookup.AssertNotCalled(t, "FriendshipStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenChatResolvesMissingStatus(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	lookup := new(mocks.BackendMock)
	readModel(chats, nil)
	lookup.On("FriendshipStatus", mock.Anything, "alice", "bob").
		Return(models.FriendshipInfo{Status: models.FriendshipPending}, nil).Once()
	chats.On("OpenChat", mock.Anything, mock.MatchedBy(func(u models.ChatUser) bool {
		return u.UserID == "bob" && u.FriendshipStatus == models.FriendshipPending
	})).Return(nil).Once()
	router := setupChatRouter(NewChatHandler(chats, lookup, zap.NewNop()))

	rec := do(router, http.MethodPost, "/chats", `{"userId":"bob"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	chats.AssertExpectations(t)
	lookup.AssertExpectations(t)
}

func TestOpenChatLookupFailure(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	lookup := new(mocks.BackendMock)
	lookup.On("FriendshipStatus", mock.Anything, "alice", "bob").
		Return(models.FriendshipInfo{}, errors.New("down")).Once()
	router := setupChatRouter(NewChatHandler(chats, lookup, zap.NewNop()))

	rec := do(router, http.MethodPost, "/chats", `{"userId":"bob"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	chats.AssertNotCalled(t, "OpenChat", mock.Anything, mock.Anything)
}

func TestOpenChatValidation(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/chats", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/chats", `{"userId":"bob","friendshipStatus":"besties"}`).Code)
}

func TestOpenChatErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{chat.ErrNoSession, http.StatusConflict},
		{chat.ErrOpenCancelled, http.StatusConflict},
		{fmt.Errorf("%w: boom", chat.ErrHistoryFetch), http.StatusBadGateway},
		{fmt.Errorf("%w: cannot chat with yourself", chat.ErrInvalidUser), http.StatusBadRequest},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			chats := new(mocks.ChatServiceMock)
			chats.On("OpenChat", mock.Anything, mock.Anything).Return(tc.err).Once()
			router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

			rec := do(router, http.MethodPost, "/chats", `{"userId":"bob","friendshipStatus":"NONE"}`)

			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestWindowToggles(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	readModel(chats, nil)
	chats.On("CloseChat", "bob").Return(true).Once()
	chats.On("MinimizeChat", "bob").Return(true).Once()
	chats.On("MaximizeChat", "carol").Return(false).Once()
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodDelete, "/chats/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"found":true`)

	rec = do(router, http.MethodPost, "/chats/bob/minimize", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/chats/carol/maximize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"found":false`)

	chats.AssertExpectations(t)
}

func TestPostMessageCreated(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	chats.On("SendMessage", mock.Anything, "bob", "hi").
		Return(models.Message{ID: "m1", SenderID: "alice", RecipientID: "bob", Content: "hi"}, nil).Once()
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodPost, "/chats/bob/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "m1", msg.ID)
	chats.AssertExpectations(t)
}

func TestPostMessagePolicyRefusal(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	chats.On("SendMessage", mock.Anything, "bob", "hi").
		Return(nil, fmt.Errorf("%w: %w", chat.ErrSendPolicy, chat.ErrNotFriendly)).Once()
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodPost, "/chats/bob/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"not_friendly"`)
}

func TestPostMessagePersistenceFailure(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	chats.On("SendMessage", mock.Anything, "bob", "hi").
		Return(nil, fmt.Errorf("%w: db down", chat.ErrPersistence)).Once()
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodPost, "/chats/bob/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpdateFriendship(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	readModel(chats, nil)
	chats.On("UpdateFriendshipStatus", "bob", models.FriendshipFriendly).Return(true).Once()
	router := setupChatRouter(NewChatHandler(chats, new(mocks.BackendMock), zap.NewNop()))

	rec := do(router, http.MethodPut, "/chats/bob/friendship", `{"status":"FRIENDLY"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPut, "/chats/bob/friendship", `{"status":"enemies"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	chats.AssertExpectations(t)
}
