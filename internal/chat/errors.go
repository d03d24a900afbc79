package chat

import (
	"errors"
	"time"
)

var (
	ErrNoSession     = errors.New("no active chat session")
	ErrInvalidUser   = errors.New("chat user id is empty")
	ErrOpenCancelled = errors.New("chat closed before history arrived")
	ErrHistoryFetch  = errors.New("history fetch failed")
	ErrPersistence   = errors.New("message persistence failed")
	ErrTransport     = errors.New("realtime transport unavailable")

	ErrNotSessionOwner = errors.New("user does not own the chat session")

	// ErrSendPolicy wraps every local refusal of sendMessage. The reason is
	// one of the errors below and can be matched with errors.Is.
	ErrSendPolicy   = errors.New("send refused")
	ErrNoWindow     = errors.New("no open window for user")
	ErrNotFriendly  = errors.New("friendship status does not allow messaging")
	ErrEmptyContent = errors.New("message content is empty")
	ErrOffline      = errors.New("messaging unavailable")
)

// NotificationKind classifies user-facing failures.
type NotificationKind string

const (
	KindTransport    NotificationKind = "transport_error"
	KindHistoryFetch NotificationKind = "history_fetch_error"
	KindPersistence  NotificationKind = "persistence_error"
)

// Notification is raised for every asynchronous failure the UI should show.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	SessionUserID string           `json:"sessionUserId,omitempty"`
	UserID        string           `json:"userId,omitempty"`
	Text          string           `json:"text"`
	At            time.Time        `json:"at"`
}
