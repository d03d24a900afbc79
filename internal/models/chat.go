package models

import (
	"fmt"
	"strings"
)

// FriendshipStatus gates whether two users may exchange messages.
type FriendshipStatus string

const (
	FriendshipNone     FriendshipStatus = "NONE"
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipFriendly FriendshipStatus = "FRIENDLY"
)

// ParseFriendshipStatus accepts the backend's spelling in any case.
func ParseFriendshipStatus(s string) (FriendshipStatus, error) {
	switch FriendshipStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case FriendshipNone, "":
		return FriendshipNone, nil
	case FriendshipPending:
		return FriendshipPending, nil
	case FriendshipFriendly:
		return FriendshipFriendly, nil
	}
	return FriendshipNone, fmt.Errorf("unknown friendship status %q", s)
}

// ChatUser is the counterpart of a conversation.
type ChatUser struct {
	UserID           string           `json:"userId"`
	DisplayName      string           `json:"displayName"`
	AvatarRef        string           `json:"avatarRef,omitempty"`
	FriendshipStatus FriendshipStatus `json:"friendshipStatus"`
}

// ChatWindow is an open conversation with one counterpart.
type ChatWindow struct {
	ChatUser    ChatUser  `json:"chatUser"`
	IsMinimized bool      `json:"isMinimized"`
	Messages    []Message `json:"messages"`
}

// Clone returns a copy that shares no slice memory with w.
func (w ChatWindow) Clone() ChatWindow {
	out := w
	out.Messages = make([]Message, len(w.Messages))
	copy(out.Messages, w.Messages)
	return out
}

// HasMessage reports whether a message with id is already in the window.
func (w ChatWindow) HasMessage(id string) bool {
	for _, m := range w.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// FriendshipInfo is the backend's view of the relationship with a user.
type FriendshipInfo struct {
	Status       FriendshipStatus `json:"status"`
	FriendshipID string           `json:"friendshipId,omitempty"`
}
