package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"linkchat/internal/chat"
	"linkchat/internal/models"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ConversationHistory(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *BackendMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *BackendMock) FriendshipStatus(ctx context.Context, viewerID, userID string) (models.FriendshipInfo, error) {
	args := m.Called(ctx, viewerID, userID)
	var info models.FriendshipInfo
	if val := args.Get(0); val != nil {
		info = val.(models.FriendshipInfo)
	}
	return info, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(ctx context.Context, n chat.Notification) {
	m.Called(ctx, n)
}

type AuthProviderMock struct {
	mock.Mock
}

func (m *AuthProviderMock) CurrentUserID(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

var _ chat.Backend = (*BackendMock)(nil)
var _ chat.Notifier = (*NotifierMock)(nil)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) StartSession(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) EndSession() {
	m.Called()
}

func (m *ChatServiceMock) CurrentUserID() string {
	return m.Called().String(0)
}

func (m *ChatServiceMock) State() chat.ConnState {
	return m.Called().Get(0).(chat.ConnState)
}

func (m *ChatServiceMock) Windows() []models.ChatWindow {
	args := m.Called()
	if val := args.Get(0); val != nil {
		return val.([]models.ChatWindow)
	}
	return nil
}

func (m *ChatServiceMock) OpenChat(ctx context.Context, user models.ChatUser) error {
	return m.Called(ctx, user).Error(0)
}

func (m *ChatServiceMock) CloseChat(userID string) bool {
	return m.Called(userID).Bool(0)
}

func (m *ChatServiceMock) MinimizeChat(userID string) bool {
	return m.Called(userID).Bool(0)
}

func (m *ChatServiceMock) MaximizeChat(userID string) bool {
	return m.Called(userID).Bool(0)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, userID, content string) (models.Message, error) {
	args := m.Called(ctx, userID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) UpdateFriendshipStatus(userID string, status models.FriendshipStatus) bool {
	return m.Called(userID, status).Bool(0)
}

type TokenSinkMock struct {
	mock.Mock
}

func (m *TokenSinkMock) SetToken(token string) {
	m.Called(token)
}
